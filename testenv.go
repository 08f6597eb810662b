package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"voicecrm/audio"
	"voicecrm/beep"
	"voicecrm/config"
	"voicecrm/coordinator"
	"voicecrm/log"
)

// runTestMode drives the app from stdin with a WAV file standing in for the
// microphone.
func runTestMode(cfg config.Config, wavPath string) int {
	beep.Disable()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	log.SessionStart(cfg.API.BaseURL, "fake")

	a := newApp(cfg, fakeCtx)
	err = runScript(a, os.Stdin, os.Stdout)
	log.SessionEnd(a.pipeline.Uploads())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runScript executes one command per input line:
//
//	RECORD      toggle recording (stopping submits the upload)
//	WAIT        block until the last upload finishes
//	HISTORY     open the history view and print its rows
//	HOME        return to the record view
//	STATUS      print the current state
//	SLEEP <ms>  pause
//	QUIT        stop reading
//
// Results and notices are printed to out as tab-separated lines.
func runScript(a *app, in io.Reader, out io.Writer) error {
	ctx := context.Background()
	var pending chan struct{}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "" || strings.HasPrefix(cmd, "#"):
			continue
		case cmd == "RECORD":
			task, err := a.coord.ToggleRecord(ctx)
			if err != nil {
				log.Errorf("recording error: %v", err)
			}
			if task != nil {
				done := make(chan struct{})
				pending = done
				go func() {
					defer close(done)
					a.coord.Complete(task.Wait())
				}()
			}
			printNotice(out, a.coord.State())
		case cmd == "WAIT":
			if pending != nil {
				<-pending
				pending = nil
			}
			s := a.coord.State()
			printResult(out, s)
			printNotice(out, s)
		case cmd == "HISTORY":
			a.coord.OpenHistory(ctx)
			s := a.coord.State()
			printHistory(out, s, a.cfg.UI.SnippetWidth)
			printNotice(out, s)
		case cmd == "HOME":
			a.coord.OpenRecord()
		case cmd == "STATUS":
			s := a.coord.State()
			fmt.Fprintf(out, "status\t%s\t%s\t%s\n", s.View, s.Recording, s.Processing)
		case cmd == "QUIT":
			return nil
		case strings.HasPrefix(cmd, "SLEEP "):
			ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:]))
			if err != nil {
				return fmt.Errorf("bad SLEEP argument %q", cmd[6:])
			}
			time.Sleep(time.Duration(ms) * time.Millisecond)
		default:
			return fmt.Errorf("unknown command %q", cmd)
		}
	}
	if pending != nil {
		<-pending
	}
	return scanner.Err()
}

func printResult(out io.Writer, s coordinator.State) {
	if !s.HasResult {
		return
	}
	fmt.Fprintf(out, "transcription\t%s\n", s.Result.Transcription)
	if name := s.Result.CustomerName(); name != "" {
		fmt.Fprintf(out, "customer\t%s\n", name)
	}
}

func printNotice(out io.Writer, s coordinator.State) {
	if s.Notice.Level == coordinator.NoticeError {
		fmt.Fprintf(out, "error\t%s\n", s.Notice.Text)
	}
}

func printHistory(out io.Writer, s coordinator.State, snippetWidth int) {
	fmt.Fprintf(out, "history\t%d\n", len(s.History))
	for _, r := range s.History {
		fmt.Fprintf(out, "row\t%s\t%s\t%s\t%s\t%s\n", r.ID, formatTimestamp(r), r.Snippet(snippetWidth), r.CustomerName, r.Status)
	}
}
