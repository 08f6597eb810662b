package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecrm/backend"
	"voicecrm/capture"
)

// gatedProcessor answers every call with the next queued reply once release
// is closed.
type gatedProcessor struct {
	release chan struct{}

	mu      sync.Mutex
	calls   int
	files   []backend.AudioFile
	replies []reply
}

type reply struct {
	resp *backend.ProcessResponse
	err  error
}

func newGated(replies ...reply) *gatedProcessor {
	return &gatedProcessor{release: make(chan struct{}), replies: replies}
}

func (g *gatedProcessor) ProcessAudio(ctx context.Context, f backend.AudioFile) (*backend.ProcessResponse, error) {
	io.Copy(io.Discard, f.Data)
	g.mu.Lock()
	i := g.calls
	g.calls++
	f.Data = nil
	g.files = append(g.files, f)
	g.mu.Unlock()

	<-g.release
	r := g.replies[i]
	return r.resp, r.err
}

func (g *gatedProcessor) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func artifact() capture.Artifact {
	return capture.NewArtifact([]byte("fLaC...."), "audio/flac")
}

func TestSubmitSuccess(t *testing.T) {
	proc := newGated(reply{resp: &backend.ProcessResponse{
		Transcription: "hello",
		ExtractedData: []byte(`{"customer":{"full_name":"Jane"}}`),
	}})
	close(proc.release)
	p := New(proc)
	assert.Equal(t, NotStarted, p.Status())

	task, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)
	out := task.Wait()

	require.NoError(t, out.Err)
	assert.False(t, out.Stale)
	assert.Equal(t, "hello", out.Result.Transcription)
	assert.Equal(t, "Jane", out.Result.CustomerName())
	assert.Equal(t, Succeeded, p.Status())

	res, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, "hello", res.Transcription)
	assert.Equal(t, "recording.flac", proc.files[0].Name)
	assert.Equal(t, "audio/flac", proc.files[0].MediaType)
}

func TestSubmitWhileInFlightRejected(t *testing.T) {
	proc := newGated(reply{resp: &backend.ProcessResponse{Transcription: "first"}})
	p := New(proc)

	task, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)
	assert.Equal(t, InFlight, p.Status())

	second, err := p.Submit(context.Background(), artifact())
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, InFlight, p.Status())

	close(proc.release)
	out := task.Wait()
	require.NoError(t, out.Err)
	assert.Equal(t, "first", out.Result.Transcription)
	assert.Equal(t, 1, proc.Calls())
	assert.Equal(t, 1, p.Uploads())
}

func TestFailureKeepsPriorResult(t *testing.T) {
	proc := newGated(
		reply{resp: &backend.ProcessResponse{Transcription: "kept"}},
		reply{err: &backend.StatusError{Code: 500, Body: "boom"}},
	)
	close(proc.release)
	p := New(proc)

	first, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)
	require.NoError(t, first.Wait().Err)

	second, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)
	out := second.Wait()

	assert.ErrorIs(t, out.Err, ErrUploadFailed)
	var se *backend.StatusError
	assert.True(t, errors.As(out.Err, &se))
	assert.Equal(t, Failed, p.Status())

	res, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, "kept", res.Transcription)
}

func TestResetMakesInFlightOutcomeStale(t *testing.T) {
	proc := newGated(reply{resp: &backend.ProcessResponse{Transcription: "old"}})
	p := New(proc)

	task, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)

	p.Reset()
	assert.Equal(t, InFlight, p.Status(), "reset does not cancel the request")

	close(proc.release)
	out := task.Wait()
	assert.True(t, out.Stale)
	assert.Equal(t, "old", out.Result.Transcription)

	_, ok := p.Result()
	assert.False(t, ok)
	assert.Equal(t, NotStarted, p.Status())
}

func TestResetClearsResult(t *testing.T) {
	proc := newGated(reply{resp: &backend.ProcessResponse{Transcription: "x"}})
	close(proc.release)
	p := New(proc)

	task, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)
	task.Wait()

	p.Reset()
	_, ok := p.Result()
	assert.False(t, ok)
	assert.Equal(t, NotStarted, p.Status())
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	proc := newGated(reply{resp: &backend.ProcessResponse{Transcription: "done"}})
	p := New(proc)

	ctx, cancel := context.WithCancel(context.Background())
	task, err := p.Submit(ctx, artifact())
	require.NoError(t, err)
	cancel()
	close(proc.release)

	out := task.Wait()
	require.NoError(t, out.Err)
	assert.Equal(t, "done", out.Result.Transcription)
}

func TestAgainstBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "recording.webm", hdr.Filename)
		}
		io.WriteString(w, `{"transcription":"hello","extracted_data":{"customer":{"full_name":"Jane"}}}`)
	}))
	defer srv.Close()

	p := New(backend.New(backend.Options{BaseURL: srv.URL}))
	task, err := p.Submit(context.Background(), capture.NewArtifact(make([]byte, 30), "audio/webm"))
	require.NoError(t, err)

	out := task.Wait()
	require.NoError(t, out.Err)
	assert.Equal(t, "hello", out.Result.Transcription)
	assert.Equal(t, "Jane", out.Result.CustomerName())
}

func TestAgainstBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(backend.New(backend.Options{BaseURL: srv.URL}))
	task, err := p.Submit(context.Background(), artifact())
	require.NoError(t, err)

	out := task.Wait()
	assert.ErrorIs(t, out.Err, ErrUploadFailed)
	assert.Equal(t, Failed, p.Status())
	_, ok := p.Result()
	assert.False(t, ok)
}

func TestCustomerName(t *testing.T) {
	cases := []struct {
		data string
		want string
	}{
		{``, ""},
		{`{"customer":{"full_name":"  Jane Doe "}}`, "Jane Doe"},
		{`{"customer":{"full_name":42}}`, ""},
		{`{"customer":"Jane"}`, ""},
		{`[1,2]`, ""},
	}
	for _, c := range cases {
		r := Result{}
		if c.data != "" {
			r.ExtractedData = []byte(c.data)
		}
		assert.Equal(t, c.want, r.CustomerName(), c.data)
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "recording.flac", Filename("audio/flac"))
	assert.Equal(t, "recording.webm", Filename("audio/webm;codecs=opus"))
	assert.Equal(t, "recording.wav", Filename("audio/x-wav"))
	assert.Equal(t, "recording.bin", Filename(""))
}
