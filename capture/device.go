package capture

import (
	"context"
	"errors"
	"fmt"

	"voicecrm/audio"
	"voicecrm/encoder"
	"voicecrm/log"
)

// AudioDevice captures 16 kHz mono from the host audio system and encodes it
// to FLAC as it arrives.
type AudioDevice struct {
	actx audio.Context
	name string
}

func NewAudioDevice(actx audio.Context, deviceName string) *AudioDevice {
	return &AudioDevice{actx: actx, name: deviceName}
}

func (d *AudioDevice) Acquire(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices, err := d.actx.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: listing devices: %w", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no input device", ErrDeviceUnavailable)
	}

	var info *audio.DeviceInfo
	if d.name != "" {
		info = audio.FindDevice(devices, d.name)
		if info == nil {
			log.Warnf("device %q not found, using system default", d.name)
		}
	}

	dev, err := d.actx.NewCapture(info, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	log.Info("capture device: " + dev.DeviceName())
	return &liveSource{dev: dev}, nil
}

type liveSource struct {
	dev audio.CaptureDevice
	enc encoder.Encoder
}

func (s *liveSource) MediaType() string { return encoder.MediaTypeFLAC }

func (s *liveSource) Begin(emit func([]byte)) error {
	enc, err := encoder.NewFlac(emitWriter(emit))
	if err != nil {
		return err
	}
	s.enc = enc
	s.dev.SetCallback(func(data []byte, _ uint32) {
		if _, err := enc.Write(data); err != nil && !errors.Is(err, encoder.ErrClosed) {
			log.Warnf("encode: %v", err)
		}
	})
	return nil
}

func (s *liveSource) Stop() error {
	s.dev.Stop()
	s.dev.ClearCallback()
	if s.enc == nil {
		return nil
	}
	err := s.enc.Close()
	log.Debug(fmt.Sprintf("encoder: %d frames, %s %s", s.enc.TotalFrames(), s.enc.MediaType(), s.enc.EncodeTime()))
	return err
}

func (s *liveSource) Release() { s.dev.Close() }

// emitWriter turns every encoder write into one chunk.
type emitWriter func([]byte)

func (w emitWriter) Write(p []byte) (int, error) {
	w(p)
	return len(p), nil
}
