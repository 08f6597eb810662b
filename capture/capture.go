package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"voicecrm/log"
)

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrNotBuffering      = errors.New("capture is not buffering")
	ErrBusy              = errors.New("capture already buffering")
)

// Artifact is the finalized payload of one recording. The zero value is an
// empty artifact with no media type.
type Artifact struct {
	data      []byte
	mediaType string
}

func NewArtifact(data []byte, mediaType string) Artifact {
	return Artifact{data: bytes.Clone(data), mediaType: mediaType}
}

func (a Artifact) Len() int          { return len(a.data) }
func (a Artifact) MediaType() string { return a.mediaType }

// Bytes returns a copy of the payload.
func (a Artifact) Bytes() []byte { return bytes.Clone(a.data) }

func (a Artifact) Reader() io.Reader { return bytes.NewReader(a.data) }

// Source is one opened input stream. Begin starts delivering encoded chunks
// to emit; Stop blocks until the host acknowledges the stop and every chunk
// has been emitted.
type Source interface {
	MediaType() string
	Begin(emit func(chunk []byte)) error
	Stop() error
	Release()
}

// Device opens sources. Acquire returns a live source whose data is
// discarded until Begin.
type Device interface {
	Acquire(ctx context.Context) (Source, error)
}

// Handle is an acquired, not yet buffering, input.
type Handle struct {
	src      Source
	acquired time.Time
}

// Release gives up a handle that never started buffering.
func (h *Handle) Release() {
	if h != nil && h.src != nil {
		h.src.Release()
	}
}

type Adapter struct {
	dev      Device
	maxBytes int

	mu      sync.Mutex
	active  *Handle
	buf     *chunkBuffer
	started time.Time
}

// NewAdapter wraps dev. maxBytes bounds a single recording; 0 means
// unbounded.
func NewAdapter(dev Device, maxBytes int) *Adapter {
	return &Adapter{dev: dev, maxBytes: maxBytes}
}

func (a *Adapter) Acquire(ctx context.Context) (*Handle, error) {
	src, err := a.dev.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return &Handle{src: src, acquired: time.Now()}, nil
}

// BeginBuffering starts collecting chunks from h into a buffer scoped to this
// recording. On failure the handle is released.
func (a *Adapter) BeginBuffering(h *Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		h.Release()
		return ErrBusy
	}

	buf := newChunkBuffer(a.maxBytes)
	if err := h.src.Begin(buf.append); err != nil {
		h.Release()
		return fmt.Errorf("%w: starting capture: %w", ErrDeviceUnavailable, err)
	}
	a.active = h
	a.buf = buf
	a.started = time.Now()
	return nil
}

// Buffering reports whether a recording is being collected.
func (a *Adapter) Buffering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// Finalize stops the device, waits for its acknowledgment, releases it and
// returns the chunks joined in arrival order.
func (a *Adapter) Finalize() (Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		return Artifact{}, ErrNotBuffering
	}
	h, buf := a.active, a.buf
	a.active, a.buf = nil, nil

	if err := h.src.Stop(); err != nil {
		log.Warnf("capture stop: %v", err)
	}
	h.src.Release()

	data, dropped := buf.seal()
	log.RecordingFinalized(len(data), h.src.MediaType(), dropped, time.Since(a.started))
	return Artifact{data: data, mediaType: h.src.MediaType()}, nil
}

type chunkBuffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int
	max     int
	full    bool
	dropped int
	sealed  bool
}

func newChunkBuffer(max int) *chunkBuffer {
	return &chunkBuffer{max: max}
}

// append copies chunk. Once the bound is hit every later chunk is dropped so
// the stream is truncated rather than spliced.
func (b *chunkBuffer) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return
	}
	if b.full || (b.max > 0 && b.size+len(chunk) > b.max) {
		b.full = true
		b.dropped++
		return
	}
	b.chunks = append(b.chunks, bytes.Clone(chunk))
	b.size += len(chunk)
}

func (b *chunkBuffer) seal() ([]byte, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	return out, b.dropped
}
