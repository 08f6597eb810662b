package beep

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlayer struct {
	mu    sync.Mutex
	calls [][]int16
	rates []uint32
}

func (r *recordingPlayer) Play(samples []int16, rate, channels uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, samples)
	r.rates = append(r.rates, rate)
	return nil
}

func (r *recordingPlayer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestGenerateTick(t *testing.T) {
	s := GenerateTick(1000, 0.01, 0.5, 10)
	require.Len(t, s, 441)
	assert.Equal(t, int16(0), s[0])

	var peak int16
	for _, v := range s {
		if v > peak {
			peak = v
		}
	}
	assert.LessOrEqual(t, float64(peak), 0.5*math.MaxInt16)
	assert.Greater(t, peak, int16(0))
}

func TestGenerateDoubleBeep(t *testing.T) {
	tick := GenerateTick(350, 0.08, 0.6, 30)
	double := GenerateDoubleBeep(350, 0.08, 0.05, 0.6, 30)
	assert.Len(t, double, 2*len(tick)+int(sampleRate*0.05))
	assert.Equal(t, tick, double[:len(tick)])
	assert.Equal(t, tick, double[len(double)-len(tick):])
}

func TestPlayUsesPlayer(t *testing.T) {
	p := &recordingPlayer{}
	Init(p)
	t.Cleanup(func() { Init(nil) })

	PlayStart()
	PlayEnd()
	PlayError()

	require.Eventually(t, func() bool { return p.count() == 3 }, time.Second, 5*time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.rates {
		assert.Equal(t, uint32(sampleRate), r)
	}
}

func TestPlayWithoutPlayer(t *testing.T) {
	Init(nil)
	PlayStart() // must not panic
}
