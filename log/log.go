package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog         zerolog.Logger
	diagFile        *os.File
	interactionFile *os.File
	logMu           sync.Mutex
	logReady        bool
	pid             int
	dir             string
	level           = zerolog.InfoLevel
)

// UploadMetrics describes one finished request to the processing endpoint.
type UploadMetrics struct {
	RequestID   string
	Status      string
	AudioKB     float64
	MediaType   string
	HTTPStatus  int
	DNSTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: VOICECRM_LOG_PATH environment variable
	if envPath := os.Getenv("VOICECRM_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel accepts zerolog level names; unknown names keep the current level.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	logMu.Lock()
	level = parsed
	if logReady {
		diagLog = diagLog.Level(parsed)
	}
	logMu.Unlock()
	return nil
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	interactionPath := filepath.Join(dir, "interactions_log.txt")
	interactionFile, err = os.OpenFile(interactionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if interactionFile != nil {
		interactionFile.Close()
		interactionFile = nil
	}
	logReady = false
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Debug(msg string) {
	if ready() {
		diagLog.Debug().Msg(msg)
	}
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func RecordingFinalized(bytes int, mediaType string, dropped int, duration time.Duration) {
	if !ready() {
		return
	}
	ev := diagLog.Info().
		Int("bytes", bytes).
		Str("media_type", mediaType).
		Float64("duration_s", duration.Seconds())
	if dropped > 0 {
		ev = ev.Int("dropped_chunks", dropped)
	}
	ev.Msg("recording_finalized")
}

func Upload(m UploadMetrics) {
	if !ready() {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("request_id", m.RequestID).
		Str("status", m.Status).
		Int("http_status", m.HTTPStatus).
		Str("media_type", m.MediaType).
		Str("conn", connStatus).
		Float64("audio_kb", m.AudioKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("upload")
}

func HistoryFetched(records, skipped int, malformed bool) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("records", records).
		Int("skipped", skipped).
		Bool("malformed", malformed).
		Msg("history_fetch")
}

// TranscriptionText appends one line to interactions_log.txt:
// "2006-01-02 15:04:05\t[pid]\ttext".
func TranscriptionText(text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady {
		return
	}
	text = strings.ReplaceAll(text, "\n", " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	interactionFile.WriteString(line)
}

func SessionStart(apiURL, device string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("api", apiURL).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(uploads int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("uploads", uploads).
		Msg("session_end")
}
