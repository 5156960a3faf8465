package prefs

import (
	"fmt"
	"slices"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
	"github.com/jnkforks/CallRecorder/internal/capture"
)

// SupportedSampleRates are the capture rates offered to the user.
var SupportedSampleRates = []int{8000, 11025, 16000, 22050, 44100, 48000}

// AudioSettings is the sample layout for one recorder variant.
type AudioSettings struct {
	SampleRate int                  `yaml:"sample_rate" json:"sample_rate"`
	Channels   int                  `yaml:"channels" json:"channels"`
	Encoding   audio.SampleEncoding `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// Params converts s to capture parameters.
func (s AudioSettings) Params() capture.Params {
	return capture.Params{SampleRate: s.SampleRate, Channels: s.Channels, Encoding: s.Encoding}
}

func (s AudioSettings) validate(name string, needEncoding bool) error {
	if !slices.Contains(SupportedSampleRates, s.SampleRate) {
		return fmt.Errorf("%s.sample_rate %d is not supported", name, s.SampleRate)
	}
	if s.Channels != 1 && s.Channels != 2 {
		return fmt.Errorf("%s.channels must be 1 or 2, got %d", name, s.Channels)
	}
	if needEncoding {
		if _, err := audio.ParseSampleEncoding(string(s.Encoding)); err != nil {
			return fmt.Errorf("%s.encoding: %w", name, err)
		}
	}
	return nil
}

// Settings are the recording preferences.
type Settings struct {
	RecordingEnabled    bool            `yaml:"recording_enabled" json:"recording_enabled"`
	RecordingAPI        capture.Variant `yaml:"recording_api" json:"recording_api"`
	DeviceBuffer        AudioSettings   `yaml:"device_buffer" json:"device_buffer"`
	Container           AudioSettings   `yaml:"container" json:"container"`
	AutoDeleteEnabled   bool            `yaml:"auto_delete_enabled" json:"auto_delete_enabled"`
	AutoDeleteAfterDays int             `yaml:"auto_delete_after_days" json:"auto_delete_after_days"`
}

// Defaults returns the settings used before the user changes anything.
func Defaults() Settings {
	return Settings{
		RecordingEnabled: true,
		RecordingAPI:     capture.VariantDeviceBuffer,
		DeviceBuffer: AudioSettings{
			SampleRate: 44100,
			Channels:   1,
			Encoding:   audio.EncodingPCM16,
		},
		Container: AudioSettings{
			SampleRate: 44100,
			Channels:   1,
		},
		AutoDeleteEnabled:   false,
		AutoDeleteAfterDays: 30,
	}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if _, err := capture.ParseVariant(string(s.RecordingAPI)); err != nil {
		return fmt.Errorf("recording_api: %w", err)
	}
	if err := s.DeviceBuffer.validate("device_buffer", true); err != nil {
		return err
	}
	if err := s.Container.validate("container", false); err != nil {
		return err
	}
	if s.AutoDeleteAfterDays < 1 {
		return fmt.Errorf("auto_delete_after_days must be at least 1, got %d", s.AutoDeleteAfterDays)
	}
	return nil
}

// Retention is the age after which recordings are swept.
func (s Settings) Retention() time.Duration {
	return time.Duration(s.AutoDeleteAfterDays) * 24 * time.Hour
}

// CaptureParams returns the layout for the selected recorder variant.
func (s Settings) CaptureParams() capture.Params {
	if s.RecordingAPI == capture.VariantContainer {
		return s.Container.Params()
	}
	return s.DeviceBuffer.Params()
}
