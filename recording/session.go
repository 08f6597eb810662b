package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voicecrm/capture"
	"voicecrm/log"
	"voicecrm/upload"
)

type State int

const (
	Idle State = iota
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Submitter is the part of the upload pipeline a session drives.
type Submitter interface {
	Submit(ctx context.Context, art capture.Artifact) (*upload.Task, error)
	Reset()
}

// Session owns one recording at a time. Its methods may be called from any
// goroutine; they serialize on the session lock.
type Session struct {
	adapter  *capture.Adapter
	uploader Submitter

	mu          sync.Mutex
	state       State
	acquiring   bool
	artifact    capture.Artifact
	hasArtifact bool
	since       time.Time
}

func New(adapter *capture.Adapter, uploader Submitter) *Session {
	return &Session{adapter: adapter, uploader: uploader}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Artifact returns the artifact of the last completed recording.
func (s *Session) Artifact() (capture.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, s.hasArtifact
}

// Since returns when the current recording started, or zero.
func (s *Session) Since() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return time.Time{}
	}
	return s.since
}

// Start begins a recording. It is a no-op while recording or while another
// Start is waiting for the device. The session lock is not held during
// acquisition, so readers never wait on the device. If the device cannot be
// acquired or started, the state and previous artifact are left untouched.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Recording || s.acquiring {
		s.mu.Unlock()
		return nil
	}
	s.acquiring = true
	s.mu.Unlock()

	h, err := s.adapter.Acquire(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquiring = false
	if err != nil {
		log.Warnf("start recording: %v", err)
		return err
	}

	if err := s.adapter.BeginBuffering(h); err != nil {
		log.Warnf("start recording: %v", err)
		return err
	}
	s.artifact, s.hasArtifact = capture.Artifact{}, false
	s.uploader.Reset()
	s.state = Recording
	s.since = time.Now()
	log.Info("recording_start")
	return nil
}

// Stop finalizes the recording and submits it for processing. Outside a
// recording it returns (nil, nil) and touches nothing. The artifact is kept
// even when the submission is rejected.
func (s *Session) Stop(ctx context.Context) (*upload.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return nil, nil
	}

	art, err := s.adapter.Finalize()
	if err != nil {
		s.state = Idle
		return nil, err
	}
	s.state = Stopped
	s.artifact, s.hasArtifact = art, true
	log.Info("recording_stop")

	task, err := s.uploader.Submit(ctx, art)
	if err != nil {
		log.Warnf("submit recording: %v", err)
		return nil, err
	}
	return task, nil
}
