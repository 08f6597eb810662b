package beep

import (
	"math"
	"sync"
	"sync/atomic"

	"voicecrm/log"
)

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	// Pulse needs a tail to fill its buffer before draining.
	tail = 0.2
)

// Player is the playback half of an audio context.
type Player interface {
	Play(samples []int16, sampleRate uint32, channels uint32) error
}

var (
	disabled atomic.Bool
	player   atomic.Pointer[playerBox]
	playMu   sync.Mutex

	soundOnce    sync.Once
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
)

type playerBox struct{ p Player }

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Init sets the output used by later cues.
func Init(p Player) {
	if p == nil {
		player.Store(nil)
		return
	}
	player.Store(&playerBox{p: p})
}

func initSound() {
	startSamples = GenerateTick(startFreq, 0.03+tail, startVolume, startDecay)
	endSamples = GenerateTick(endFreq, 0.05+tail, endVolume, endDecay)
	errorSamples = GenerateDoubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// GenerateTick returns a decaying sine at the package sample rate, mono.
func GenerateTick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return out
}

func GenerateDoubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	tick := GenerateTick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	out := make([]int16, 0, len(tick)*2+len(gap))
	out = append(out, tick...)
	out = append(out, gap...)
	out = append(out, tick...)
	return out
}

func PlayStart() { play(func() []int16 { return startSamples }) }
func PlayEnd()   { play(func() []int16 { return endSamples }) }
func PlayError() { play(func() []int16 { return errorSamples }) }

func play(samples func() []int16) {
	if disabled.Load() {
		return
	}
	box := player.Load()
	if box == nil {
		return
	}
	soundOnce.Do(initSound)
	s := samples()
	go func() {
		playMu.Lock()
		defer playMu.Unlock()
		if err := box.p.Play(s, sampleRate, 1); err != nil {
			log.Warnf("beep: %v", err)
		}
	}()
}
