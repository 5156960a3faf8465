package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/jnkforks/CallRecorder/internal/vad"
)

const trimScanFrames = 4096

// TrimResult reports how many frames were removed from each end.
type TrimResult struct {
	LeadingFrames  int64   `json:"leading_frames"`
	TrailingFrames int64   `json:"trailing_frames"`
	KeptFrames     int64   `json:"kept_frames"`
	Output         WavData `json:"output"`

	// Scanned counts the frames classified while searching both ends.
	Scanned vad.DetectorStats `json:"scanned"`
}

// TrimSilenceEnds writes a copy of the WAV file at inputPath to outputPath with
// leading and trailing silent frames removed. Interior silence is kept. A fully
// silent input produces a valid WAV with an empty data chunk.
func TrimSilenceEnds(inputPath, outputPath string) (TrimResult, error) {
	return TrimSilenceEndsThreshold(inputPath, outputPath, vad.DefaultThreshold)
}

// TrimSilenceEndsThreshold is TrimSilenceEnds with an explicit silence threshold.
func TrimSilenceEndsThreshold(inputPath, outputPath string, threshold float64) (TrimResult, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return TrimResult{}, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	d, err := ReadWavData(in)
	if err != nil {
		return TrimResult{}, err
	}

	det, err := vad.NewDetector(d.BitsPerSample, d.IsFloat(), threshold)
	if err != nil {
		return TrimResult{}, fmt.Errorf("failed to create silence detector: %w", err)
	}

	frames := d.FrameCount()
	first, err := firstVoicedFrame(in, d, det, frames)
	if err != nil {
		return TrimResult{}, err
	}

	var last int64 = -1
	if first < frames {
		if last, err = lastVoicedFrame(in, d, det, first, frames); err != nil {
			return TrimResult{}, err
		}
	}

	result := TrimResult{LeadingFrames: frames, Scanned: det.Stats()}
	if last >= first {
		result.LeadingFrames = first
		result.KeptFrames = last - first + 1
		result.TrailingFrames = frames - last - 1
	}

	align := int64(d.BlockAlign)
	result.Output = d.WithDataSize(result.KeptFrames * align)

	out, err := os.Create(outputPath)
	if err != nil {
		return TrimResult{}, fmt.Errorf("failed to create output: %w", err)
	}

	section := io.NewSectionReader(in, d.DataOffset+result.LeadingFrames*align, result.KeptFrames*align)
	if err := WriteWAV(out, result.Output, section); err != nil {
		out.Close()
		os.Remove(outputPath)
		return TrimResult{}, err
	}

	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return TrimResult{}, fmt.Errorf("failed to close output: %w", err)
	}

	return result, nil
}

// firstVoicedFrame returns the index of the first non-silent frame, or frames
// when every frame is silent.
func firstVoicedFrame(r io.ReaderAt, d WavData, det *vad.Detector, frames int64) (int64, error) {
	align := int64(d.BlockAlign)
	buf := make([]byte, trimScanFrames*align)

	for start := int64(0); start < frames; start += trimScanFrames {
		n := min(trimScanFrames, frames-start)
		chunk := buf[:n*align]
		if _, err := r.ReadAt(chunk, d.DataOffset+start*align); err != nil {
			return 0, fmt.Errorf("failed to read samples: %w", err)
		}
		for i := int64(0); i < n; i++ {
			if !det.IsSilentFrame(chunk[i*align : (i+1)*align]) {
				return start + i, nil
			}
		}
	}
	return frames, nil
}

// lastVoicedFrame scans backwards from the end and stops at floor, which is
// known to be voiced.
func lastVoicedFrame(r io.ReaderAt, d WavData, det *vad.Detector, floor, frames int64) (int64, error) {
	align := int64(d.BlockAlign)
	buf := make([]byte, trimScanFrames*align)

	for end := frames; end > floor; end -= trimScanFrames {
		start := max(floor, end-trimScanFrames)
		chunk := buf[:(end-start)*align]
		if _, err := r.ReadAt(chunk, d.DataOffset+start*align); err != nil {
			return 0, fmt.Errorf("failed to read samples: %w", err)
		}
		for i := end - start - 1; i >= 0; i-- {
			if !det.IsSilentFrame(chunk[i*align : (i+1)*align]) {
				return start + i, nil
			}
		}
	}
	return floor, nil
}
