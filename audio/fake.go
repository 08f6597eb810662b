package audio

import (
	"errors"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// ErrFakeDenied is returned by a FakeCapture whose context was built with
// Deny set, mimicking a host that refuses microphone access.
var ErrFakeDenied = errors.New("fake capture: access denied")

// FakeContext replays a WAV file as if it were a microphone.
type FakeContext struct {
	pcm        []byte
	sampleRate uint32
	realtime   bool

	// Deny makes every capture fail to start.
	Deny bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContextPCM(data, realtime), nil
}

// NewFakeContextPCM builds a fake context from an in-memory WAV image.
func NewFakeContextPCM(wav []byte, realtime bool) *FakeContext {
	if len(wav) > WAVHeaderSize {
		wav = wav[WAVHeaderSize:]
	}
	return &FakeContext{pcm: wav, sampleRate: 16000, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) Play([]int16, uint32, uint32) error { return nil }

func (f *FakeContext) NewCapture(_ *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = f.sampleRate
	}
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, deny: f.Deny, sampleRate: rate}, nil
}

type FakeCapture struct {
	pcm        []byte
	realtime   bool
	deny       bool
	sampleRate uint32

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// Start feeds the WAV payload once, in fixed-size frames. Frames produced
// before a callback is installed wait for it, so a recording always sees the
// whole file regardless of when buffering begins.
func (f *FakeCapture) Start() error {
	if f.deny {
		return ErrFakeDenied
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(max(f.sampleRate, 1))

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		pos := 0
		for pos < len(f.pcm) {
			cb := f.callback()
			if cb == nil {
				select {
				case <-stop:
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}

			end := min(pos+chunkBytes, len(f.pcm))
			chunk := make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
			pos = end

			if !f.realtime {
				continue
			}
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		}
	}(f.stopCh, f.feedDone)

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
