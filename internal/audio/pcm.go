package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleEncoding names the PCM sample layout used by a capture device.
type SampleEncoding string

const (
	EncodingPCM8     SampleEncoding = "pcm_8bit"
	EncodingPCM16    SampleEncoding = "pcm_16bit"
	EncodingPCMFloat SampleEncoding = "pcm_float"
)

// ParseSampleEncoding validates s.
func ParseSampleEncoding(s string) (SampleEncoding, error) {
	switch e := SampleEncoding(s); e {
	case EncodingPCM8, EncodingPCM16, EncodingPCMFloat:
		return e, nil
	default:
		return "", fmt.Errorf("unknown sample encoding %q", s)
	}
}

// BitsPerSample returns the stored width of one sample.
func (e SampleEncoding) BitsPerSample() int {
	switch e {
	case EncodingPCM8:
		return 8
	case EncodingPCMFloat:
		return 32
	default:
		return 16
	}
}

// BytesPerSample returns BitsPerSample / 8.
func (e SampleEncoding) BytesPerSample() int {
	return e.BitsPerSample() / 8
}

// Format returns the WAV audio format tag.
func (e SampleEncoding) Format() uint16 {
	if e == EncodingPCMFloat {
		return FormatIEEEFloat
	}
	return FormatPCM
}

// EncodingFor maps a WAV header back to a sample encoding.
func EncodingFor(d WavData) (SampleEncoding, error) {
	switch {
	case d.AudioFormat == FormatIEEEFloat && d.BitsPerSample == 32:
		return EncodingPCMFloat, nil
	case d.AudioFormat == FormatPCM && d.BitsPerSample == 16:
		return EncodingPCM16, nil
	case d.AudioFormat == FormatPCM && d.BitsPerSample == 8:
		return EncodingPCM8, nil
	default:
		return "", fmt.Errorf("unsupported sample layout: format %d, %d bits", d.AudioFormat, d.BitsPerSample)
	}
}

// FrameSize returns the bytes per frame for the given layout.
func FrameSize(channels int, enc SampleEncoding) int {
	return channels * enc.BytesPerSample()
}

// Convert8BitTo16Bit widens unsigned 8-bit samples to signed 16-bit samples
// using (b - 0x80) << 8.
func Convert8BitTo16Bit(src []byte) []int16 {
	out := make([]int16, len(src))
	for i, b := range src {
		out[i] = int16(int(b)-0x80) << 8
	}
	return out
}

// BytesToInt16 converts little-endian bytes to 16-bit samples.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes converts 16-bit samples to little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// BytesToFloat32 converts little-endian IEEE float bytes to samples.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// Float32ToBytes converts samples to little-endian IEEE float bytes.
func Float32ToBytes(samples []float32) []byte {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}

// Deinterleave splits interleaved samples into left and right planes. Mono
// input is duplicated into both planes.
func Deinterleave[T int16 | float32](samples []T, channels int) (left, right []T) {
	if channels <= 1 {
		left = make([]T, len(samples))
		copy(left, samples)
		right = make([]T, len(samples))
		copy(right, samples)
		return left, right
	}

	frames := len(samples) / channels
	left = make([]T, frames)
	right = make([]T, frames)
	for i := 0; i < frames; i++ {
		left[i] = samples[i*channels]
		right[i] = samples[i*channels+1]
	}
	return left, right
}
