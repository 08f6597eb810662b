package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"voicecrm/log"
)

const (
	Placeholder     = "N/A"
	StatusProcessed = "Processed"
)

var ErrFetchFailed = errors.New("history fetch failed")

type Record struct {
	ID           string
	Timestamp    time.Time
	HasTimestamp bool
	Text         string
	CustomerName string
	Status       string
}

// Snippet returns Text on one line, cut to at most n runes.
func (r Record) Snippet(n int) string {
	text := strings.Join(strings.Fields(r.Text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	if n <= 3 {
		return string([]rune(text)[:n])
	}
	return string([]rune(text)[:n-3]) + "..."
}

// Listing is one fetch. Malformed means the body was not a JSON array;
// Skipped counts array entries that were not objects.
type Listing struct {
	Records   []Record
	Malformed bool
	Skipped   int
}

type Source interface {
	DashboardData(ctx context.Context) ([]byte, error)
}

type Fetcher struct {
	src Source
}

func NewFetcher(src Source) *Fetcher {
	return &Fetcher{src: src}
}

// Fetch reads the full history. Transport and status failures return an
// empty listing and an error matching ErrFetchFailed; a body of the wrong
// shape is not an error.
func (f *Fetcher) Fetch(ctx context.Context) (Listing, error) {
	body, err := f.src.DashboardData(ctx)
	if err != nil {
		log.Errorf("history fetch: %v", err)
		return Listing{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	l := Decode(body)
	log.HistoryFetched(len(l.Records), l.Skipped, l.Malformed)
	return l, nil
}

// Decode turns a dashboard body into records without trusting its shape.
func Decode(body []byte) Listing {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		log.Warnf("history: undecodable body: %v", err)
		return Listing{Malformed: true}
	}
	items, ok := raw.([]any)
	if !ok {
		log.Warnf("history: expected an array, got %s", kind(raw))
		return Listing{Malformed: true}
	}

	l := Listing{Records: make([]Record, 0, len(items))}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			log.Warnf("history: entry %d is %s, skipping", i, kind(item))
			l.Skipped++
			continue
		}
		l.Records = append(l.Records, decodeRecord(obj))
	}
	return l
}

func decodeRecord(obj map[string]any) Record {
	r := Record{
		ID:           scalarString(obj["id"]),
		Text:         stringField(obj, "text"),
		CustomerName: Placeholder,
		Status:       StatusProcessed,
	}
	if ts, ok := parseTimestamp(obj["timestamp"]); ok {
		r.Timestamp, r.HasTimestamp = ts, true
	}
	if name := strings.TrimSpace(stringAt(obj, "data", "customer", "full_name")); name != "" {
		r.CustomerName = name
	}
	if status := strings.TrimSpace(stringField(obj, "status")); status != "" {
		r.Status = status
	}
	return r
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// stringAt walks nested objects; any missing or mistyped step yields "".
func stringAt(obj map[string]any, path ...string) string {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) and
// ISO-8601 with or without a zone. Zoneless times are taken as local.
func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case json.Number:
		return fromEpochMillis(x.String())
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if t, ok := fromEpochMillis(s); ok {
			return t, true
		}
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func fromEpochMillis(s string) (time.Time, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(f)), true
	}
	return time.Time{}, false
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}
