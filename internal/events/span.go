package events

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Span times one named unit of work, usually a stage. Start and end (or
// error) entries share a random id so a reader can pair them.
type Span struct {
	log   *Log
	id    string
	name  string
	start time.Time
}

// StartSpan records a span.start entry and returns the running span.
// Logging failures are swallowed: telemetry must never fail a run.
func (l *Log) StartSpan(name string, attrs map[string]any) *Span {
	s := &Span{log: l, id: spanID(), name: name, start: time.Now()}
	_ = l.Append("span.start", map[string]any{
		"id":    s.id,
		"name":  name,
		"attrs": attrs,
	})
	return s
}

// End records span.end, or span.error when err is non-nil, with the
// elapsed duration in seconds.
func (s *Span) End(err error) {
	payload := map[string]any{
		"id":         s.id,
		"name":       s.name,
		"duration_s": time.Since(s.start).Seconds(),
	}
	event := "span.end"
	if err != nil {
		event = "span.error"
		payload["error"] = err.Error()
	}
	_ = s.log.Append(event, payload)
}

func spanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
