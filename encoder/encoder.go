package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Encoder consumes little-endian s16 PCM through Write and emits encoded
// bytes to its output as soon as they are produced.
type Encoder interface {
	Write(pcm []byte) (int, error)
	Close() error
	MediaType() string
	TotalFrames() uint64
	EncodeTime() time.Duration
}
