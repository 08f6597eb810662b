package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const MediaTypeFLAC = "audio/flac"

var ErrClosed = errors.New("encoder closed")

var _ Encoder = (*FlacEncoder)(nil)

// FlacEncoder streams FLAC to an io.Writer. The stream header is written by
// NewFlac; every complete block of BlockSize samples becomes one frame.
type FlacEncoder struct {
	enc         *flac.Encoder
	pending     []int16
	odd         []byte // trailing half sample from the previous Write
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

func NewFlac(w io.Writer) (*FlacEncoder, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0, // unknown; the output is not seekable
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FlacEncoder{enc: enc}, nil
}

func (e *FlacEncoder) MediaType() string { return MediaTypeFLAC }

func (e *FlacEncoder) Write(pcm []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}

	start := time.Now()
	defer func() { e.encodeTime += time.Since(start) }()

	data := pcm
	if len(e.odd) > 0 {
		data = append(e.odd, pcm...)
		e.odd = nil
	}
	for i := 0; i+1 < len(data); i += 2 {
		e.pending = append(e.pending, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	if len(data)%2 == 1 {
		e.odd = []byte{data[len(data)-1]}
	}

	for len(e.pending) >= BlockSize {
		if err := e.writeFrame(e.pending[:BlockSize]); err != nil {
			return 0, err
		}
		e.pending = e.pending[BlockSize:]
	}
	return len(pcm), nil
}

// Close encodes the remaining partial block. The underlying writer is not
// closed.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if len(e.pending) > 0 {
		if err := e.writeFrame(e.pending); err != nil {
			return err
		}
		e.pending = nil
	}
	return e.enc.Close()
}

func (e *FlacEncoder) writeFrame(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}

// DecodeFlac returns interleaved s16 samples for playback.
func DecodeFlac(data []byte) (samples []int16, sampleRate, channels uint32, err error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opening flac stream: %w", err)
	}
	defer stream.Close()

	sampleRate = stream.Info.SampleRate
	channels = uint32(stream.Info.NChannels)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("decoding flac frame: %w", err)
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for _, sub := range f.Subframes {
				samples = append(samples, int16(sub.Samples[i]))
			}
		}
	}
	return samples, sampleRate, channels, nil
}
