package capture

import (
	"context"
	"sync"
)

// FakeDevice hands out sources that emit a fixed list of chunks. It counts
// acquisitions and releases so callers can check the device lifecycle.
type FakeDevice struct {
	Chunks    [][]byte
	MediaType string
	Err       error // returned by Acquire
	BeginErr  error // returned by Begin

	mu           sync.Mutex
	acquisitions int
	releases     int
}

func (f *FakeDevice) Acquire(ctx context.Context) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.acquisitions++
	return &fakeSource{dev: f}, nil
}

func (f *FakeDevice) Acquisitions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquisitions
}

func (f *FakeDevice) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// Held reports whether a source is acquired and not yet released.
func (f *FakeDevice) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquisitions > f.releases
}

type fakeSource struct {
	dev  *FakeDevice
	done chan struct{}
	once sync.Once
}

func (s *fakeSource) MediaType() string { return s.dev.MediaType }

func (s *fakeSource) Begin(emit func([]byte)) error {
	if s.dev.BeginErr != nil {
		return s.dev.BeginErr
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for _, c := range s.dev.Chunks {
			emit(c)
		}
	}()
	return nil
}

func (s *fakeSource) Stop() error {
	if s.done != nil {
		<-s.done
	}
	return nil
}

func (s *fakeSource) Release() {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.releases++
		s.dev.mu.Unlock()
	})
}
