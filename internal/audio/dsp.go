package audio

import (
	"fmt"
	"math"
)

const (
	normalizeTargetRMS = 0.1
	normalizePeakLimit = 0.95

	trimTopDB       = 20.0
	trimFrameLength = 2048
	trimHopLength   = 512

	preEmphasisCoeff = 0.97
	highPassCutoffHz = 80.0
	highPassOrder    = 5

	// Downsampling first removes content above 0.45 of the target rate
	antiAliasRatio = 0.45
	antiAliasOrder = 8
)

// ToChannels converts the buffer to the requested channel count.
// Downmixing averages all channels; mono is duplicated when upmixing.
func ToChannels(buf *Buffer, channels int) (*Buffer, error) {
	src := buf.NumChannels()
	switch {
	case channels <= 0:
		return nil, fmt.Errorf("target channels must be positive, got %d", channels)
	case channels == src:
		return buf, nil
	case channels == 1:
		mono := make([]float64, buf.Len())
		for _, ch := range buf.Channels {
			for i, v := range ch {
				mono[i] += v
			}
		}
		weight := 1 / float64(src)
		for i := range mono {
			mono[i] *= weight
		}
		return &Buffer{SampleRate: buf.SampleRate, Channels: [][]float64{mono}}, nil
	case src == 1:
		out := &Buffer{SampleRate: buf.SampleRate, Channels: make([][]float64, channels)}
		for c := range out.Channels {
			out.Channels[c] = append([]float64(nil), buf.Channels[0]...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot map %d channels to %d", src, channels)
	}
}

// Resample converts the buffer to rate using linear interpolation. When
// downsampling, a zero-phase Butterworth low-pass at 0.45*rate runs first so
// content above the new Nyquist frequency does not alias into the speech band.
// The input buffer is left unchanged.
func Resample(buf *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", rate)
	}
	if rate == buf.SampleRate || buf.Len() == 0 {
		return &Buffer{SampleRate: rate, Channels: buf.Channels}, nil
	}

	src := buf.Channels
	if rate < buf.SampleRate {
		sections := butterworthLowPass(antiAliasOrder, antiAliasRatio*float64(rate), float64(buf.SampleRate))
		src = make([][]float64, buf.NumChannels())
		for c, ch := range buf.Channels {
			filtered := append([]float64(nil), ch...)
			filterZeroPhase(sections, filtered)
			src[c] = filtered
		}
	}

	ratio := float64(buf.SampleRate) / float64(rate)
	outLen := int(math.Round(float64(buf.Len()) / ratio))
	if outLen < 1 {
		outLen = 1
	}

	out := &Buffer{SampleRate: rate, Channels: make([][]float64, buf.NumChannels())}
	last := buf.Len() - 1
	for c, ch := range src {
		dst := make([]float64, outLen)
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= last {
				dst[i] = ch[last]
				continue
			}
			frac := pos - float64(j)
			dst[i] = ch[j]*(1-frac) + ch[j+1]*frac
		}
		out.Channels[c] = dst
	}
	return out, nil
}

// Normalize scales the buffer to a target RMS of 0.1, then caps the peak at 0.95
func Normalize(buf *Buffer) {
	if level := rms(buf); level > 0 {
		scale(buf, normalizeTargetRMS/level)
	}
	if p := peak(buf); p > normalizePeakLimit {
		scale(buf, normalizePeakLimit/p)
	}
}

// TrimSilence removes leading and trailing frames quieter than 20 dB below the loudest frame.
// Frame energy is the RMS of a centred 2048-sample window stepped by 512 samples.
func TrimSilence(buf *Buffer) *Buffer {
	n := buf.Len()
	if n == 0 {
		return buf
	}

	mono := make([]float64, n)
	for _, ch := range buf.Channels {
		for i, v := range ch {
			mono[i] += v / float64(buf.NumChannels())
		}
	}

	frames := 1 + n/trimHopLength
	energy := make([]float64, frames)
	maxRMS := 0.0
	for f := 0; f < frames; f++ {
		center := f * trimHopLength
		lo := center - trimFrameLength/2
		hi := center + trimFrameLength/2
		var sum float64
		for i := lo; i < hi; i++ {
			if i >= 0 && i < n {
				sum += mono[i] * mono[i]
			}
		}
		energy[f] = math.Sqrt(sum / trimFrameLength)
		if energy[f] > maxRMS {
			maxRMS = energy[f]
		}
	}
	if maxRMS == 0 {
		return buf
	}

	threshold := maxRMS * math.Pow(10, -trimTopDB/20)
	first, last := -1, -1
	for f, v := range energy {
		if v > threshold {
			if first < 0 {
				first = f
			}
			last = f
		}
	}

	start := first * trimHopLength
	end := (last + 1) * trimHopLength
	if end > n {
		end = n
	}
	if start >= end {
		return buf
	}
	return buf.Slice(start, end)
}

// PreEmphasis applies y[n] = x[n] - 0.97*x[n-1] in place
func PreEmphasis(buf *Buffer) {
	for _, ch := range buf.Channels {
		prev := 0.0
		for i, v := range ch {
			if i > 0 {
				ch[i] = v - preEmphasisCoeff*prev
			}
			prev = v
		}
	}
}

// HighPass applies a 5th-order Butterworth high-pass at 80 Hz, run forward then backward
// so the result has zero phase shift.
func HighPass(buf *Buffer) error {
	if float64(buf.SampleRate) <= 2*highPassCutoffHz {
		return fmt.Errorf("sample rate %d too low for %.0f Hz high-pass", buf.SampleRate, highPassCutoffHz)
	}
	sections := butterworthHighPass(highPassOrder, highPassCutoffHz, float64(buf.SampleRate))
	for _, ch := range buf.Channels {
		filterZeroPhase(sections, ch)
	}
	return nil
}

// OptimizeSpeech runs pre-emphasis followed by the 80 Hz high-pass
func OptimizeSpeech(buf *Buffer) error {
	PreEmphasis(buf)
	return HighPass(buf)
}

// biquad is a normalised second-order section (a0 == 1)
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (q biquad) apply(x []float64) {
	var x1, x2, y1, y2 float64
	for i, v := range x {
		y := q.b0*v + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y
		x[i] = y
	}
}

// butterworthHighPass builds the cascade of sections for an order-n Butterworth
// high-pass using the bilinear transform with a prewarped cutoff.
func butterworthHighPass(order int, cutoff, rate float64) []biquad {
	k := math.Tan(math.Pi * cutoff / rate)
	var sections []biquad

	for i := 1; i <= order/2; i++ {
		q := butterworthQ(order, i)
		norm := 1 / (1 + k/q + k*k)
		sections = append(sections, biquad{
			b0: norm,
			b1: -2 * norm,
			b2: norm,
			a1: 2 * (k*k - 1) * norm,
			a2: (1 - k/q + k*k) * norm,
		})
	}

	if order%2 == 1 {
		norm := 1 / (1 + k)
		sections = append(sections, biquad{
			b0: norm,
			b1: -norm,
			a1: (k - 1) * norm,
		})
	}
	return sections
}

// butterworthLowPass mirrors butterworthHighPass for the low-pass prototype
func butterworthLowPass(order int, cutoff, rate float64) []biquad {
	k := math.Tan(math.Pi * cutoff / rate)
	var sections []biquad

	for i := 1; i <= order/2; i++ {
		q := butterworthQ(order, i)
		norm := 1 / (1 + k/q + k*k)
		sections = append(sections, biquad{
			b0: k * k * norm,
			b1: 2 * k * k * norm,
			b2: k * k * norm,
			a1: 2 * (k*k - 1) * norm,
			a2: (1 - k/q + k*k) * norm,
		})
	}

	if order%2 == 1 {
		norm := 1 / (1 + k)
		sections = append(sections, biquad{
			b0: k * norm,
			b1: k * norm,
			a1: (k - 1) * norm,
		})
	}
	return sections
}

// butterworthQ is the quality factor of the i-th pole pair of an order-n filter
func butterworthQ(order, i int) float64 {
	theta := float64(2*i-1) * math.Pi / float64(2*order)
	return 1 / (2 * math.Cos(theta))
}

func filterSections(sections []biquad, x []float64) {
	for _, s := range sections {
		s.apply(x)
	}
}

// filterZeroPhase runs the cascade forward then backward in place
func filterZeroPhase(sections []biquad, x []float64) {
	filterSections(sections, x)
	reverse(x)
	filterSections(sections, x)
	reverse(x)
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func scale(buf *Buffer, factor float64) {
	for _, ch := range buf.Channels {
		for i := range ch {
			ch[i] *= factor
		}
	}
}

func peak(buf *Buffer) float64 {
	p := 0.0
	for _, ch := range buf.Channels {
		for _, v := range ch {
			if a := math.Abs(v); a > p {
				p = a
			}
		}
	}
	return p
}

// rms returns the root mean square over all channels
func rms(buf *Buffer) float64 {
	var sum float64
	n := 0
	for _, ch := range buf.Channels {
		for _, v := range ch {
			sum += v * v
		}
		n += len(ch)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
