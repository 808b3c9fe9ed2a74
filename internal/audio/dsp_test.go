package audio

import (
	"math"
	"testing"
)

func TestToChannels(t *testing.T) {
	stereo := &Buffer{SampleRate: 16000, Channels: [][]float64{{0.2, 0.6}, {0.4, -0.2}}}

	mono, err := ToChannels(stereo, 1)
	if err != nil {
		t.Fatalf("ToChannels failed: %v", err)
	}
	if mono.NumChannels() != 1 {
		t.Fatalf("Expected 1 channel, got %d", mono.NumChannels())
	}
	want := []float64{0.3, 0.2}
	for i, w := range want {
		if math.Abs(mono.Channels[0][i]-w) > 1e-12 {
			t.Errorf("Sample %d: expected %v, got %v", i, w, mono.Channels[0][i])
		}
	}

	up, err := ToChannels(mono, 2)
	if err != nil {
		t.Fatalf("Upmix failed: %v", err)
	}
	if up.NumChannels() != 2 || up.Channels[1][0] != mono.Channels[0][0] {
		t.Errorf("Expected mono duplicated to both channels")
	}

	if _, err := ToChannels(stereo, 0); err == nil {
		t.Error("Expected error for zero target channels")
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		fromRate int
		toRate   int
	}{
		{"downsample 44.1k", 44100, 16000},
		{"upsample 8k", 8000, 16000},
		{"same rate", 16000, 16000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := sineBuffer(tt.fromRate, 1, 1.0, 440, 0.5)
			out, err := Resample(buf, tt.toRate)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}
			if out.SampleRate != tt.toRate {
				t.Errorf("Expected rate %d, got %d", tt.toRate, out.SampleRate)
			}
			if math.Abs(out.Duration()-1.0) > 0.001 {
				t.Errorf("Expected duration 1.0s, got %.4f", out.Duration())
			}
		})
	}
}

// middleRMS skips the first and last tenth where the zero-phase filter settles
func middleRMS(x []float64) float64 {
	lo, hi := len(x)/10, len(x)-len(x)/10
	var sum float64
	for _, v := range x[lo:hi] {
		sum += v * v
	}
	return math.Sqrt(sum / float64(hi-lo))
}

func TestResampleAttenuatesOutOfBand(t *testing.T) {
	tests := []struct {
		name     string
		fromRate int
		freq     float64
	}{
		{"12 kHz at 48k", 48000, 12000},
		{"10 kHz at 44.1k", 44100, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := sineBuffer(tt.fromRate, 1, 1.0, tt.freq, 0.5)
			out, err := Resample(buf, 16000)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}
			in := middleRMS(buf.Channels[0])
			got := middleRMS(out.Channels[0])
			if got > in*0.01 {
				t.Errorf("Expected tone above 8 kHz removed, input RMS %.4f, output RMS %.4f", in, got)
			}
		})
	}
}

func TestResampleKeepsSpeechBand(t *testing.T) {
	buf := sineBuffer(48000, 1, 1.0, 1000, 0.5)
	original := append([]float64(nil), buf.Channels[0]...)

	out, err := Resample(buf, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	want := 0.5 / math.Sqrt2
	if got := middleRMS(out.Channels[0]); math.Abs(got-want) > 0.02 {
		t.Errorf("Expected 1 kHz tone kept at RMS %.4f, got %.4f", want, got)
	}
	for i, v := range original {
		if buf.Channels[0][i] != v {
			t.Fatalf("Resample modified its input at sample %d", i)
		}
	}
}

func TestNormalizeTargetsRMS(t *testing.T) {
	buf := sineBuffer(16000, 1, 1.0, 440, 0.01)
	Normalize(buf)

	if got := rms(buf); math.Abs(got-normalizeTargetRMS) > 1e-6 {
		t.Errorf("Expected RMS %.3f, got %.6f", normalizeTargetRMS, got)
	}
}

func TestNormalizeCapsPeak(t *testing.T) {
	// A single spike in silence would be boosted far past full scale by RMS scaling
	samples := make([]float64, 16000)
	samples[8000] = 0.5
	buf := &Buffer{SampleRate: 16000, Channels: [][]float64{samples}}

	Normalize(buf)

	if got := peak(buf); math.Abs(got-normalizePeakLimit) > 1e-9 {
		t.Errorf("Expected peak %.2f, got %v", normalizePeakLimit, got)
	}
}

func TestTrimSilence(t *testing.T) {
	rate := 16000
	tone := sineBuffer(rate, 1, 1.0, 440, 0.5).Channels[0]
	samples := make([]float64, 3*rate)
	copy(samples[rate:], tone)
	buf := &Buffer{SampleRate: rate, Channels: [][]float64{samples}}

	trimmed := TrimSilence(buf)

	if trimmed.Len() < rate {
		t.Errorf("Trimmed audio shorter than the tone: %d frames", trimmed.Len())
	}
	if trimmed.Len() > rate+2*trimFrameLength {
		t.Errorf("Expected silence removed, got %d frames of %d", trimmed.Len(), buf.Len())
	}
}

func TestTrimSilenceAllQuiet(t *testing.T) {
	buf := &Buffer{SampleRate: 16000, Channels: [][]float64{make([]float64, 4000)}}
	if got := TrimSilence(buf); got.Len() != 4000 {
		t.Errorf("Expected silent buffer left intact, got %d frames", got.Len())
	}
}

func TestPreEmphasis(t *testing.T) {
	buf := &Buffer{SampleRate: 16000, Channels: [][]float64{{1, 1, 1}}}
	PreEmphasis(buf)

	want := []float64{1, 1 - preEmphasisCoeff, 1 - preEmphasisCoeff}
	for i, w := range want {
		if math.Abs(buf.Channels[0][i]-w) > 1e-12 {
			t.Errorf("Sample %d: expected %v, got %v", i, w, buf.Channels[0][i])
		}
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.5
	}
	buf := &Buffer{SampleRate: 16000, Channels: [][]float64{samples}}

	if err := HighPass(buf); err != nil {
		t.Fatalf("HighPass failed: %v", err)
	}
	if got := math.Abs(buf.Channels[0][8000]); got > 1e-3 {
		t.Errorf("Expected DC removed mid-signal, got %v", got)
	}
}

func TestHighPassKeepsSpeechBand(t *testing.T) {
	buf := sineBuffer(16000, 1, 1.0, 1000, 0.5)
	before := rms(buf.Slice(4000, 12000))

	if err := HighPass(buf); err != nil {
		t.Fatalf("HighPass failed: %v", err)
	}
	after := rms(buf.Slice(4000, 12000))

	if ratio := after / before; ratio < 0.95 || ratio > 1.05 {
		t.Errorf("Expected 1 kHz tone to pass unchanged, got gain %.3f", ratio)
	}
}

func TestHighPassRejectsLowRate(t *testing.T) {
	buf := &Buffer{SampleRate: 100, Channels: [][]float64{{0, 1, 0}}}
	if err := HighPass(buf); err == nil {
		t.Error("Expected error for sample rate below twice the cutoff")
	}
}
