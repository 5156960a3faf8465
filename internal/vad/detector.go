package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultThreshold is roughly -36 dBFS.
const DefaultThreshold = 1.0 / 64

// Detector decides whether interleaved little-endian sample frames are silent.
// A frame is silent when every sample in it is within the threshold of zero
// (or of the 0x80 midpoint for unsigned 8-bit samples).
type Detector struct {
	bitsPerSample int
	float         bool
	threshold     float64
	intLimit      int64

	totalFrames  uint64
	silentFrames uint64
}

// DetectorStats counts the frames a detector has classified.
type DetectorStats struct {
	TotalFrames      uint64  `json:"total_frames"`
	SilentFrames     uint64  `json:"silent_frames"`
	SilentPercentage float64 `json:"silent_percentage"`
	Threshold        float64 `json:"threshold"`
}

// NewDetector creates a detector for the given sample layout. threshold is a
// fraction of full scale in (0, 1].
func NewDetector(bitsPerSample int, float bool, threshold float64) (*Detector, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	switch {
	case float && bitsPerSample != 32:
		return nil, fmt.Errorf("float samples must be 32 bits, got %d", bitsPerSample)
	case !float && bitsPerSample != 8 && bitsPerSample != 16 && bitsPerSample != 24 && bitsPerSample != 32:
		return nil, fmt.Errorf("unsupported bit depth %d", bitsPerSample)
	}

	fullScale := int64(1) << (bitsPerSample - 1)
	return &Detector{
		bitsPerSample: bitsPerSample,
		float:         float,
		threshold:     threshold,
		intLimit:      int64(math.Floor(float64(fullScale) * threshold)),
	}, nil
}

// IsSilentFrame classifies one frame of interleaved samples.
func (d *Detector) IsSilentFrame(frame []byte) bool {
	silent := d.isSilent(frame)
	d.totalFrames++
	if silent {
		d.silentFrames++
	}
	return silent
}

func (d *Detector) isSilent(frame []byte) bool {
	width := d.bitsPerSample / 8
	for off := 0; off+width <= len(frame); off += width {
		s := frame[off : off+width]

		if d.float {
			v := math.Float32frombits(binary.LittleEndian.Uint32(s))
			if math.Abs(float64(v)) > d.threshold {
				return false
			}
			continue
		}

		var v int64
		switch width {
		case 1:
			v = int64(s[0]) - 0x80
		case 2:
			v = int64(int16(binary.LittleEndian.Uint16(s)))
		case 3:
			v = int64(int32(uint32(s[0])|uint32(s[1])<<8|uint32(s[2])<<16) << 8 >> 8)
		case 4:
			v = int64(int32(binary.LittleEndian.Uint32(s)))
		}
		if v < 0 {
			v = -v
		}
		if v > d.intLimit {
			return false
		}
	}
	return true
}

// Stats returns classification counters.
func (d *Detector) Stats() DetectorStats {
	pct := float64(0)
	if d.totalFrames > 0 {
		pct = float64(d.silentFrames) / float64(d.totalFrames) * 100
	}
	return DetectorStats{
		TotalFrames:      d.totalFrames,
		SilentFrames:     d.silentFrames,
		SilentPercentage: pct,
		Threshold:        d.threshold,
	}
}
