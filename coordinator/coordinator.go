package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"voicecrm/capture"
	"voicecrm/history"
	"voicecrm/log"
	"voicecrm/recording"
	"voicecrm/upload"
)

type ViewMode int

const (
	RecordView ViewMode = iota
	HistoryView
)

func (v ViewMode) String() string {
	if v == HistoryView {
		return "history"
	}
	return "record"
}

type NoticeLevel int

const (
	NoticeNone NoticeLevel = iota
	NoticeInfo
	NoticeError
)

type Notice struct {
	Level NoticeLevel
	Text  string
}

const (
	MsgMicDenied      = "Microphone access denied."
	MsgUploadFailed   = "Failed to process audio. Is the backend running?"
	MsgUploadBusy     = "Still processing the previous recording; this one was not sent."
	MsgHistoryFailed  = "Could not load dashboard data"
	MsgRecordingError = "Recording failed."
)

// State is an immutable snapshot for rendering.
type State struct {
	View           ViewMode
	Recording      recording.State
	RecordingSince time.Time
	Processing     upload.Status
	Result         upload.Result
	HasResult      bool
	ArtifactBytes  int
	ArtifactType   string
	HasArtifact    bool
	History        []history.Record
	HistoryLoading bool
	Notice         Notice
}

type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*upload.Task, error)
	State() recording.State
	Since() time.Time
	Artifact() (capture.Artifact, bool)
}

type Pipeline interface {
	Status() upload.Status
	Result() (upload.Result, bool)
}

type HistorySource interface {
	Fetch(ctx context.Context) (history.Listing, error)
}

type Coordinator struct {
	session  Session
	pipeline Pipeline
	history  HistorySource

	mu        sync.Mutex
	view      ViewMode
	notice    Notice
	records   []history.Record
	loading   bool
	observers []func(State)
}

func New(session Session, pipeline Pipeline, hist HistorySource) *Coordinator {
	return &Coordinator{session: session, pipeline: pipeline, history: hist}
}

// OnChange registers fn to receive a snapshot after every change. fn runs on
// the goroutine that made the change.
func (c *Coordinator) OnChange(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	s := State{
		View:           c.view,
		Notice:         c.notice,
		History:        slices.Clone(c.records),
		HistoryLoading: c.loading,
	}
	c.mu.Unlock()

	s.Recording = c.session.State()
	s.RecordingSince = c.session.Since()
	s.Processing = c.pipeline.Status()
	s.Result, s.HasResult = c.pipeline.Result()
	if art, ok := c.session.Artifact(); ok {
		s.HasArtifact = true
		s.ArtifactBytes = art.Len()
		s.ArtifactType = art.MediaType()
	}
	return s
}

// ToggleRecord starts a recording, or stops the current one and returns its
// upload task. Failures become notices as well as errors.
func (c *Coordinator) ToggleRecord(ctx context.Context) (*upload.Task, error) {
	if c.session.State() == recording.Recording {
		return c.stop(ctx)
	}
	return nil, c.start(ctx)
}

func (c *Coordinator) start(ctx context.Context) error {
	err := c.session.Start(ctx)
	switch {
	case err == nil:
		c.setNotice(Notice{})
	case errors.Is(err, capture.ErrDeviceUnavailable):
		c.setNotice(Notice{Level: NoticeError, Text: MsgMicDenied})
	default:
		c.setNotice(Notice{Level: NoticeError, Text: MsgRecordingError})
	}
	return err
}

func (c *Coordinator) stop(ctx context.Context) (*upload.Task, error) {
	task, err := c.session.Stop(ctx)
	switch {
	case err == nil:
		c.setNotice(Notice{})
	case errors.Is(err, upload.ErrInFlight):
		c.setNotice(Notice{Level: NoticeError, Text: MsgUploadBusy})
	default:
		c.setNotice(Notice{Level: NoticeError, Text: MsgRecordingError})
	}
	return task, err
}

// Complete applies a finished upload. Stale outcomes only refresh observers.
func (c *Coordinator) Complete(out upload.Outcome) {
	switch {
	case out.Stale:
		c.notify()
	case out.Err != nil:
		c.setNotice(Notice{Level: NoticeError, Text: MsgUploadFailed})
	default:
		c.setNotice(Notice{})
	}
}

// OpenHistory fetches the history and then shows it, whatever the fetch
// outcome. The list is replaced on every call.
func (c *Coordinator) OpenHistory(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()
	c.notify()

	listing, err := c.history.Fetch(ctx)

	c.mu.Lock()
	c.loading = false
	c.view = HistoryView
	c.records = listing.Records
	if err != nil {
		c.notice = Notice{Level: NoticeError, Text: MsgHistoryFailed}
	} else if c.notice.Text == MsgHistoryFailed {
		c.notice = Notice{}
	}
	c.mu.Unlock()

	log.Info("view: history")
	c.notify()
	return err
}

// OpenRecord shows the record view. A recording in progress is untouched.
func (c *Coordinator) OpenRecord() {
	c.mu.Lock()
	c.view = RecordView
	c.mu.Unlock()
	c.notify()
}

// Notify shows a transient message such as a clipboard confirmation.
func (c *Coordinator) Notify(level NoticeLevel, text string) {
	c.setNotice(Notice{Level: level, Text: text})
}

func (c *Coordinator) setNotice(n Notice) {
	c.mu.Lock()
	c.notice = n
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	s := c.State()
	for _, fn := range observers {
		fn(s)
	}
}
