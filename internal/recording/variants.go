package recording

import (
	"fmt"
	"log/slog"

	"github.com/jnkforks/CallRecorder/internal/capture"
)

// RecorderFactory builds the recorder for one capture session.
type RecorderFactory interface {
	NewRecorder(variant capture.Variant, params capture.Params) (capture.Recorder, error)
}

// Variants builds either recorder variant over a shared device lock.
type Variants struct {
	Opener   capture.DeviceOpener
	Launcher capture.EncoderLauncher
	Lock     *capture.DeviceLock
	Logger   *slog.Logger
}

func (v Variants) NewRecorder(variant capture.Variant, params capture.Params) (capture.Recorder, error) {
	switch variant {
	case capture.VariantDeviceBuffer:
		if v.Opener == nil {
			return nil, fmt.Errorf("%w: no capture device configured", capture.ErrDeviceUnavailable)
		}
		return capture.NewDeviceBufferCapturer(v.Opener, v.Lock, params, v.Logger), nil
	case capture.VariantContainer:
		if v.Launcher == nil {
			return nil, fmt.Errorf("%w: no container encoder configured", capture.ErrDeviceUnavailable)
		}
		return capture.NewContainerRecorder(v.Launcher, v.Lock, params, v.Logger), nil
	default:
		return nil, fmt.Errorf("unknown recorder variant %q", variant)
	}
}
