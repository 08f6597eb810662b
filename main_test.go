package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecrm/audio"
	"voicecrm/backend"
	"voicecrm/config"
	"voicecrm/coordinator"
	"voicecrm/encoder"
	"voicecrm/history"
	"voicecrm/recording"
	"voicecrm/upload"
)

func silenceWAV(samples int) []byte {
	return append(make([]byte, audio.WAVHeaderSize), make([]byte, samples*2)...)
}

type scriptBackend struct {
	uploads     atomic.Int32
	failUploads atomic.Bool
}

func (b *scriptBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case backend.ProcessAudioPath:
		b.uploads.Add(1)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.Copy(io.Discard, f)
		if hdr.Header.Get("Content-Type") != encoder.MediaTypeFLAC || b.failUploads.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"transcription":"call Jane tomorrow","extracted_data":{"customer":{"full_name":"Jane Doe"}}}`)
	case backend.DashboardDataPath:
		io.WriteString(w, `[{"id":7,"timestamp":null,"text":"call Jane tomorrow","data":{}},"junk"]`)
	default:
		http.NotFound(w, r)
	}
}

func newTestApp(t *testing.T, h http.Handler) *app {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg, err := config.Default().WithAPI(srv.URL)
	require.NoError(t, err)
	return newApp(cfg, audio.NewFakeContextPCM(silenceWAV(16000), false))
}

func TestScriptRecordAndHistory(t *testing.T) {
	b := &scriptBackend{}
	a := newTestApp(t, b)

	script := "RECORD\nSLEEP 50\nRECORD\nWAIT\nHISTORY\nHOME\nSTATUS\nQUIT\n"
	var out bytes.Buffer
	require.NoError(t, runScript(a, strings.NewReader(script), &out))

	got := out.String()
	assert.Contains(t, got, "transcription\tcall Jane tomorrow\n")
	assert.Contains(t, got, "customer\tJane Doe\n")
	assert.Contains(t, got, "history\t1\n")
	assert.Contains(t, got, "row\t7\tN/A\tcall Jane tomorrow\tN/A\tProcessed\n")
	assert.Contains(t, got, "status\trecord\tstopped\tsucceeded\n")
	assert.NotContains(t, got, "error\t")
	assert.Equal(t, int32(1), b.uploads.Load())

	art, ok := a.session.Artifact()
	require.True(t, ok)
	assert.Equal(t, encoder.MediaTypeFLAC, art.MediaType())
	_, _, _, err := encoder.DecodeFlac(art.Bytes())
	assert.NoError(t, err)
}

func TestScriptUploadFailure(t *testing.T) {
	b := &scriptBackend{}
	b.failUploads.Store(true)
	a := newTestApp(t, b)

	var out bytes.Buffer
	require.NoError(t, runScript(a, strings.NewReader("RECORD\nSLEEP 20\nRECORD\nWAIT\n"), &out))

	assert.Contains(t, out.String(), "error\t"+coordinator.MsgUploadFailed+"\n")
	assert.NotContains(t, out.String(), "transcription\t")
	assert.Equal(t, upload.Failed, a.pipeline.Status())
}

func TestScriptBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	cfg, err := config.Default().WithAPI(srv.URL)
	require.NoError(t, err)
	cfg.API.Timeout = 2 * time.Second
	a := newApp(cfg, audio.NewFakeContextPCM(silenceWAV(1600), false))

	var out bytes.Buffer
	require.NoError(t, runScript(a, strings.NewReader("HISTORY\n"), &out))
	assert.Contains(t, out.String(), "history\t0\n")
	assert.Contains(t, out.String(), "error\t"+coordinator.MsgHistoryFailed+"\n")
	assert.Equal(t, coordinator.HistoryView, a.coord.State().View)
}

func TestScriptMicDenied(t *testing.T) {
	srv := httptest.NewServer(&scriptBackend{})
	t.Cleanup(srv.Close)
	cfg, err := config.Default().WithAPI(srv.URL)
	require.NoError(t, err)
	fake := audio.NewFakeContextPCM(silenceWAV(1600), false)
	fake.Deny = true
	a := newApp(cfg, fake)

	var out bytes.Buffer
	require.NoError(t, runScript(a, strings.NewReader("RECORD\nSTATUS\n"), &out))
	assert.Contains(t, out.String(), "error\t"+coordinator.MsgMicDenied+"\n")
	assert.Contains(t, out.String(), "status\trecord\tidle\tnot_started\n")
}

func TestScriptRejectsUnknownCommand(t *testing.T) {
	a := newTestApp(t, &scriptBackend{})
	err := runScript(a, strings.NewReader("JUMP\n"), io.Discard)
	assert.ErrorContains(t, err, "JUMP")

	err = runScript(a, strings.NewReader("SLEEP soon\n"), io.Discard)
	assert.ErrorContains(t, err, "SLEEP")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{""}, wrapText("", 10))
	assert.Equal(t, []string{"hello", "world"}, wrapText("hello world", 7))
	assert.Equal(t, []string{"abcde", "fgh"}, wrapText("abcdefgh", 5))
	assert.Equal(t, []string{"héllo", "wörld"}, wrapText("héllo wörld", 6))
}

func TestFormatExtracted(t *testing.T) {
	assert.Empty(t, formatExtracted(nil))
	assert.Equal(t, "{\n  \"a\": 1\n}", formatExtracted(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "{broken", formatExtracted(json.RawMessage(`{broken`)))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, history.Placeholder, formatTimestamp(history.Record{}))

	ts := time.Date(2024, 5, 1, 14, 3, 9, 0, time.Local)
	assert.Equal(t, "14:03:09", formatTimestamp(history.Record{Timestamp: ts, HasTimestamp: true}))
}

func TestHistoryTableColumns(t *testing.T) {
	records := []history.Record{{
		ID:           "1",
		Text:         "a very long transcription that will not fit",
		CustomerName: history.Placeholder,
		Status:       history.StatusProcessed,
	}}
	out := historyTable(records, 10).Render()
	for _, want := range []string{"ID", "Timestamp", "Transcription Snippet", "Customer Name", "Status", "a very", "N/A", "Processed"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderRecordStates(t *testing.T) {
	idle := strings.Join(renderRecord(coordinator.State{}, 40, 0), "\n")
	assert.Contains(t, idle, "READY")

	processing := strings.Join(renderRecord(coordinator.State{
		Recording:  recording.Stopped,
		Processing: upload.InFlight,
	}, 40, 0), "\n")
	assert.Contains(t, processing, "Processing voice input...")

	done := strings.Join(renderRecord(coordinator.State{
		Recording:  recording.Stopped,
		Processing: upload.Succeeded,
		HasResult:  true,
		Result: upload.Result{
			Transcription: "hello",
			ExtractedData: json.RawMessage(`{"customer":{"full_name":"Jane"}}`),
		},
	}, 40, 0), "\n")
	assert.Contains(t, done, "hello")
	assert.Contains(t, done, "Jane")
	assert.Contains(t, done, "full_name")
}
