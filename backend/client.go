package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ProcessAudioPath  = "/process-audio"
	DashboardDataPath = "/dashboard-data"

	maxErrorBody = 512
)

type requestIDKey struct{}

// WithRequestID makes the next request carried by ctx use id as its
// X-Request-ID instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string // sent with every request
}

type Client struct {
	http    *TracedClient
	baseURL string
	headers map[string]string
}

func New(opts Options) *Client {
	return &Client{
		http:    NewTracedClient(opts.Timeout),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		headers: opts.Headers,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type AudioFile struct {
	Name      string
	MediaType string
	Data      io.Reader
}

type ProcessResponse struct {
	Transcription string
	ExtractedData json.RawMessage // nil when missing or null
	RequestID     string
	StatusCode    int
	BodyBytes     int
	Metrics       *NetworkMetrics
}

type processBody struct {
	Transcription *string         `json:"transcription"`
	ExtractedData json.RawMessage `json:"extracted_data"`
}

// ProcessAudio posts one recording as multipart field "file".
func (c *Client) ProcessAudio(ctx context.Context, file AudioFile) (*ProcessResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	h.Set("Content-Type", file.MediaType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, file.Data)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, ProcessAudioPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var pb processBody
	if err := json.Unmarshal(resp.Body, &pb); err != nil {
		return nil, fmt.Errorf("process-audio response parse error: %w", err)
	}

	out := &ProcessResponse{
		RequestID:  req.Header.Get("X-Request-ID"),
		StatusCode: resp.StatusCode,
		BodyBytes:  int(n),
		Metrics:    resp.Metrics,
	}
	if pb.Transcription != nil {
		out.Transcription = *pb.Transcription
	}
	if len(pb.ExtractedData) > 0 && string(pb.ExtractedData) != "null" {
		out.ExtractedData = pb.ExtractedData
	}
	return out, nil
}

// DashboardData returns the raw history body; decoding is left to the caller
// because the shape is not trusted.
func (c *Client) DashboardData(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, DashboardDataPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Request-ID", requestID(ctx))
	return req, nil
}

func checkStatus(resp *TracedResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body := strings.TrimSpace(string(resp.Body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Code: resp.StatusCode, Body: body}
}
