package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"voicecrm/audio"
	"voicecrm/backend"
	"voicecrm/capture"
	"voicecrm/clipboard"
	"voicecrm/encoder"
	"voicecrm/history"
	"voicecrm/upload"
)

const recordFor = 3 * time.Second

type Options struct {
	Audio    audio.Context
	Device   string
	Backend  *backend.Client
	MaxBytes int
	In       io.Reader
	Out      io.Writer
}

type checker struct {
	opts   Options
	in     *bufio.Reader
	out    io.Writer
	sample capture.Artifact
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	resetTerminal()
	setupInterruptHandler()

	c := &checker{opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}
	c.printf("voicecrm doctor - system diagnostics\n")
	c.printf("====================================\n")

	allPass := c.checkBackend()
	if allPass && !c.checkMicrophone() {
		allPass = false
	}
	if allPass && !c.checkProcessing() {
		allPass = false
	}
	if !c.checkClipboard() {
		allPass = false
	}

	c.printf("\n")
	if allPass {
		c.printf("All checks passed!\n")
		return 0
	}
	c.printf("Some checks failed. See details above.\n")
	return 1
}

func (c *checker) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *checker) confirm(question string) bool {
	c.printf("%s [y/n]: ", question)
	answer, _ := c.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (c *checker) checkBackend() bool {
	c.printf("\n[1/4] Backend reachability (%s)\n", c.opts.Backend.BaseURL())

	start := time.Now()
	listing, err := history.NewFetcher(c.opts.Backend).Fetch(context.Background())
	if err != nil {
		c.printf("  FAIL: %v\n", err)
		var se *backend.StatusError
		if !errors.As(err, &se) {
			c.printf("  Is the backend running? Set api.base_url or pass -api.\n")
		}
		return false
	}
	if listing.Malformed {
		c.printf("  WARN: %s did not return a JSON array; history will show empty\n", backend.DashboardDataPath)
		return true
	}
	c.printf("  PASS: %d history records in %dms\n", len(listing.Records), time.Since(start).Milliseconds())
	return true
}

func (c *checker) checkMicrophone() bool {
	c.printf("\n[2/4] Microphone\n")

	adapter := capture.NewAdapter(capture.NewAudioDevice(c.opts.Audio, c.opts.Device), c.opts.MaxBytes)
	c.printf("Press Enter and speak for %d seconds...", int(recordFor.Seconds()))
	c.in.ReadString('\n')

	h, err := adapter.Acquire(context.Background())
	if err != nil {
		c.printf("  FAIL: %v\n", err)
		return false
	}
	if err := adapter.BeginBuffering(h); err != nil {
		c.printf("  FAIL: %v\n", err)
		return false
	}

	c.printf("  Recording")
	deadline := time.After(recordFor)
	ticker := time.NewTicker(500 * time.Millisecond)
wait:
	for {
		select {
		case <-ticker.C:
			c.printf(".")
		case <-deadline:
			break wait
		}
	}
	ticker.Stop()

	art, err := adapter.Finalize()
	c.printf(" done\n")
	if err != nil {
		c.printf("  FAIL: %v\n", err)
		return false
	}

	samples, rate, channels, err := encoder.DecodeFlac(art.Bytes())
	if err != nil {
		c.printf("  FAIL: recording does not decode: %v\n", err)
		return false
	}
	if len(samples) == 0 {
		c.printf("  FAIL: no audio captured\n")
		return false
	}
	c.printf("  Recorded %.1f KB (%.1fs of audio)\n", float64(art.Len())/1024, float64(len(samples))/float64(rate*channels))
	c.sample = art

	c.printf("  Playing it back...\n")
	if err := c.opts.Audio.Play(samples, rate, channels); err != nil {
		c.printf("  WARN: playback failed: %v\n", err)
		c.printf("  PASS: microphone captured audio\n")
		return true
	}
	if !c.confirm("Did you hear your recording?") {
		c.printf("  FAIL: playback not confirmed\n")
		return false
	}
	c.printf("  PASS: microphone verified by user\n")
	return true
}

func (c *checker) checkProcessing() bool {
	c.printf("\n[3/4] Audio processing (%s)\n", backend.ProcessAudioPath)

	p := upload.New(c.opts.Backend)
	task, err := p.Submit(context.Background(), c.sample)
	if err != nil {
		c.printf("  FAIL: %v\n", err)
		return false
	}
	out := task.Wait()
	if out.Err != nil {
		c.printf("  FAIL: %v\n", out.Err)
		return false
	}

	text := strings.TrimSpace(out.Result.Transcription)
	if text == "" {
		text = "(no speech detected)"
	}
	c.printf("\n  Transcription: %s\n", text)
	if name := out.Result.CustomerName(); name != "" {
		c.printf("  Customer:      %s\n", name)
	}
	c.printf("\n")

	if !c.confirm("Is this correct?") {
		c.printf("  FAIL: transcription not confirmed\n")
		return false
	}
	c.printf("  PASS: transcription verified by user\n")
	return true
}

func (c *checker) checkClipboard() bool {
	c.printf("\n[4/4] Clipboard\n")

	sentinel := "voicecrm-doctor-" + time.Now().Format("150405")
	if err := clipboard.Copy(sentinel); err != nil {
		c.printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		c.printf("  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		c.printf("  FAIL: clipboard round trip (got %q, want %q)\n", got, sentinel)
		return false
	}
	c.printf("  PASS: clipboard copy verified\n")
	return true
}
