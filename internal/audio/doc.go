// Package audio implements the WAV container layer used by the recorder.
// It derives and parses RIFF/WAVE headers, locates the data chunk by scanning,
// computes frame-accurate durations, trims silent ends and converts PCM sample
// widths for the MP3 encoder.
package audio
