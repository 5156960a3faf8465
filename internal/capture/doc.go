// Package capture provides the call audio recorders. Two variants share the
// Recorder contract: DeviceBufferCapturer pulls raw PCM from a capture device
// on a background goroutine and writes a WAV file, ContainerRecorder hands the
// whole pipeline to an external AAC/MPEG-4 encoder. Only one capture may hold
// the audio device at a time; see DeviceLock.
package capture
