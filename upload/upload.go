package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"voicecrm/backend"
	"voicecrm/capture"
	"voicecrm/log"
)

var (
	ErrInFlight     = errors.New("an upload is already in flight")
	ErrUploadFailed = errors.New("upload failed")
)

type Status int

const (
	NotStarted Status = iota
	InFlight
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Result struct {
	Transcription string
	ExtractedData json.RawMessage // nil when the backend sent none
}

// CustomerName reads extracted_data.customer.full_name, or "" when absent.
func (r Result) CustomerName() string {
	if len(r.ExtractedData) == 0 {
		return ""
	}
	var doc struct {
		Customer struct {
			FullName any `json:"full_name"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(r.ExtractedData, &doc); err != nil {
		return ""
	}
	name, _ := doc.Customer.FullName.(string)
	return strings.TrimSpace(name)
}

// Outcome is either a Result or an Err wrapping ErrUploadFailed. Stale is set
// when the pipeline was reset while the request ran; its Result was not kept.
type Outcome struct {
	Result Result
	Err    error
	Stale  bool
}

type Task struct {
	ID      string
	done    chan struct{}
	outcome Outcome
}

func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Wait() Outcome {
	<-t.done
	return t.outcome
}

type Processor interface {
	ProcessAudio(ctx context.Context, file backend.AudioFile) (*backend.ProcessResponse, error)
}

type Pipeline struct {
	proc Processor

	mu        sync.Mutex
	status    Status
	result    Result
	hasResult bool
	gen       uint64
	uploads   int
}

func New(proc Processor) *Pipeline {
	return &Pipeline{proc: proc}
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Result returns the last successful result of the current recording cycle.
func (p *Pipeline) Result() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.hasResult
}

// Uploads counts submitted requests.
func (p *Pipeline) Uploads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads
}

// Reset clears the stored result for a new recording. A request still in
// flight keeps running but its outcome will be stale.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.result = Result{}
	p.hasResult = false
	if p.status != InFlight {
		p.status = NotStarted
	}
}

// Submit starts one asynchronous upload of art. The request outlives ctx's
// cancellation; only its values are kept.
func (p *Pipeline) Submit(ctx context.Context, art capture.Artifact) (*Task, error) {
	p.mu.Lock()
	if p.status == InFlight {
		p.mu.Unlock()
		return nil, ErrInFlight
	}
	p.status = InFlight
	p.uploads++
	gen := p.gen
	task := &Task{ID: uuid.NewString(), done: make(chan struct{})}
	p.mu.Unlock()

	go p.run(context.WithoutCancel(ctx), task, gen, art)
	return task, nil
}

func (p *Pipeline) run(ctx context.Context, task *Task, gen uint64, art capture.Artifact) {
	ctx = backend.WithRequestID(ctx, task.ID)
	resp, err := p.proc.ProcessAudio(ctx, backend.AudioFile{
		Name:      Filename(art.MediaType()),
		MediaType: art.MediaType(),
		Data:      art.Reader(),
	})

	p.mu.Lock()
	var out Outcome
	out.Stale = gen != p.gen
	switch {
	case err != nil:
		out.Err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		p.status = Failed
	default:
		out.Result = Result{Transcription: resp.Transcription, ExtractedData: resp.ExtractedData}
		p.status = Succeeded
		if !out.Stale {
			p.result = out.Result
			p.hasResult = true
		}
	}
	if out.Stale {
		p.status = NotStarted
	}
	p.mu.Unlock()

	logUpload(task.ID, art, resp, err)
	if err == nil && !out.Stale {
		log.TranscriptionText(resp.Transcription)
	}

	task.outcome = out
	close(task.done)
}

func logUpload(id string, art capture.Artifact, resp *backend.ProcessResponse, err error) {
	m := log.UploadMetrics{
		RequestID: id,
		Status:    Succeeded.String(),
		AudioKB:   float64(art.Len()) / 1024,
		MediaType: art.MediaType(),
	}
	if err != nil {
		m.Status = Failed.String()
		var se *backend.StatusError
		if errors.As(err, &se) {
			m.HTTPStatus = se.Code
		}
		log.Errorf("upload %s: %v", id, err)
	}
	if resp != nil {
		m.HTTPStatus = resp.StatusCode
		if nm := resp.Metrics; nm != nil {
			m.DNSTimeMs = float64(nm.DNS.Microseconds()) / 1000
			m.TLSTimeMs = float64(nm.TLS.Microseconds()) / 1000
			m.TTFBMs = float64(nm.TTFB.Microseconds()) / 1000
			m.TotalTimeMs = float64(nm.Total.Microseconds()) / 1000
			m.ConnReused = nm.ConnReused
		}
	}
	log.Upload(m)
}

// Filename names the multipart file after the media type.
func Filename(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/flac", "audio/x-flac":
		return "recording.flac"
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "recording.wav"
	case "audio/webm":
		return "recording.webm"
	case "audio/ogg":
		return "recording.ogg"
	case "audio/mpeg":
		return "recording.mp3"
	}
	return "recording.bin"
}
