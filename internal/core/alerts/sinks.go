package alerts

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogSink emits alerts via zerolog at a level derived from severity,
// matching this codebase's structured-logging idiom.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) Emit(key string, severity Severity, subject, message string) {
	event := log.Warn()
	if severity == SeverityHigh {
		event = log.Error()
	}
	event.Str("alert_key", key).Str("severity", string(severity)).Str("subject", subject).Msg(message)
}

// ArtifactRecord is one line of the JSON-artifact sink's output.
type ArtifactRecord struct {
	Key       string    `json:"key"`
	Severity  Severity  `json:"severity"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	EmittedAt time.Time `json:"emittedAt"`
}

// ArtifactSink appends one JSON record per alert to a file, mirroring the
// JSON-artifact emission idiom used for operational audit trails elsewhere
// in this codebase.
type ArtifactSink struct {
	mu   sync.Mutex
	path string
}

// NewArtifactSink will append to (creating if necessary) the file at path.
func NewArtifactSink(path string) *ArtifactSink {
	return &ArtifactSink{path: path}
}

func (a *ArtifactSink) Emit(key string, severity Severity, subject, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", a.path).Msg("alert artifact sink: open failed")
		return
	}
	defer f.Close()

	rec := ArtifactRecord{Key: key, Severity: severity, Subject: subject, Message: message, EmittedAt: time.Now().UTC()}
	enc := json.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		log.Error().Err(err).Str("path", a.path).Msg("alert artifact sink: encode failed")
	}
}
