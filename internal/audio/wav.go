package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// Buffer holds decoded audio as float samples in [-1, 1], one slice per channel
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// NumChannels returns the channel count
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Len returns the number of frames
func (b *Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Slice returns frames [from, to) sharing the underlying samples
func (b *Buffer) Slice(from, to int) *Buffer {
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float64, len(b.Channels))}
	for c, ch := range b.Channels {
		out.Channels[c] = ch[from:to]
	}
	return out
}

// pcm16Header is the canonical 44-byte header written for PCM16 output
type pcm16Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a WAV file without its samples
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`

	dataOffset int
}

// EncodeWAV encodes the buffer as 16-bit PCM WAV, clipping samples to [-1, 1]
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if buf == nil || buf.Len() == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", buf.SampleRate)
	}

	numChannels := uint16(buf.NumChannels())
	bitsPerSample := uint16(16)
	frames := buf.Len()
	dataSize := uint32(frames * int(numChannels) * 2)

	header := pcm16Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(buf.SampleRate),
		ByteRate:      uint32(buf.SampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, 44+int(dataSize)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	// Interleave channels
	samples := make([]int16, 0, frames*int(numChannels))
	for i := 0; i < frames; i++ {
		for _, ch := range buf.Channels {
			samples = append(samples, floatToPCM16(ch[i]))
		}
	}
	if err := binary.Write(out, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return out.Bytes(), nil
}

// ReadWAVInfo walks the RIFF chunks and returns the fmt/data description.
// Chunks other than "fmt " and "data" are skipped.
func ReadWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{}
	var haveFmt, haveData bool
	blockAlign := uint16(0)

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			// Truncated trailing chunk: only data may be cut short
			if id != "data" {
				return nil, fmt.Errorf("invalid WAV file: chunk %q overruns file", id)
			}
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			f := data[body : body+size]
			info.AudioFormat = binary.LittleEndian.Uint16(f[0:2])
			info.Channels = binary.LittleEndian.Uint16(f[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(f[4:8])
			blockAlign = binary.LittleEndian.Uint16(f[12:14])
			info.BitsPerSample = binary.LittleEndian.Uint16(f[14:16])
			if info.AudioFormat == wavFormatExtensible && size >= 26 {
				// First two bytes of the sub-format GUID carry the actual format code
				info.AudioFormat = binary.LittleEndian.Uint16(f[24:26])
			}
			haveFmt = true
		case "data":
			info.DataSize = uint32(size)
			info.dataOffset = body
			haveData = true
		}

		// Chunks are word aligned
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !haveData {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if info.Channels == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero channels")
	}
	if info.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if blockAlign == 0 {
		blockAlign = info.Channels * info.BitsPerSample / 8
	}
	if blockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero block alignment")
	}

	info.NumFrames = info.DataSize / uint32(blockAlign)
	info.Duration = float64(info.NumFrames) / float64(info.SampleRate)
	return info, nil
}

// DecodeWAV decodes 8/16/24/32-bit integer PCM or 32/64-bit float WAV data
func DecodeWAV(data []byte) (*Buffer, *WAVInfo, error) {
	info, err := ReadWAVInfo(data)
	if err != nil {
		return nil, nil, err
	}

	sampleBytes := int(info.BitsPerSample) / 8
	var read func([]byte) float64

	switch {
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 8:
		read = func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 16:
		read = func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 24:
		read = func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / 8388608
		}
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 32:
		read = func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
		}
	case info.AudioFormat == wavFormatFloat && info.BitsPerSample == 32:
		read = func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
	case info.AudioFormat == wavFormatFloat && info.BitsPerSample == 64:
		read = func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	default:
		return nil, nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits",
			info.AudioFormat, info.BitsPerSample)
	}

	channels := int(info.Channels)
	frames := int(info.DataSize) / (sampleBytes * channels)
	if frames <= 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	buf := &Buffer{SampleRate: int(info.SampleRate), Channels: make([][]float64, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float64, frames)
	}

	pcm := data[info.dataOffset:]
	pos := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = read(pcm[pos : pos+sampleBytes])
			pos += sampleBytes
		}
	}

	return buf, info, nil
}

// ReadWAVFile loads and decodes a WAV file from disk
func ReadWAVFile(path string) (*Buffer, *WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return DecodeWAV(data)
}

// WriteWAVFile encodes the buffer as PCM16 and writes it to path
func WriteWAVFile(path string, buf *Buffer) (int64, error) {
	data, err := EncodeWAV(buf)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write WAV file: %w", err)
	}
	return int64(len(data)), nil
}

var errNotWAV = errors.New("not a RIFF/WAVE file")

// isWAV reports whether data starts with a RIFF/WAVE signature
func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func floatToPCM16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}
