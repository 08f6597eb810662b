package audio

const WAVHeaderSize = 44

// DataCallback receives little-endian s16 PCM as the host delivers it.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Play(samples []int16, sampleRate uint32, channels uint32) error
	Close()
}

// CaptureDevice is a single input stream. Start opens the device; data is
// dropped until a callback is set. Stop returns only after the host has
// acknowledged the stop, so no callback fires once it returns.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// FindDevice returns the device with the given name, or nil.
func FindDevice(devices []DeviceInfo, name string) *DeviceInfo {
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	return nil
}
