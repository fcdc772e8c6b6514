// Package failure exposes the failure log kept by the job-queue runtime: an
// append-only Redis list of JSON records, oldest first.
package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/nadmax/resqview/internal/queue"
)

// TimeLayout is the runtime's timestamp format for failed_at and retried_at.
const TimeLayout = "2006/01/02 15:04:05 MST"

// Timestamp reads TimeLayout or RFC 3339 and always writes TimeLayout.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(TimeLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{TimeLayout, "2006/01/02 15:04:05 -0700", time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

// Unparseable is the queue and exception a log entry is grouped under when it
// is not a valid failure record.
const Unparseable = "(unparseable)"

var ErrMalformedRecord = errors.New("malformed failure record")

type Record struct {
	FailedAt  Timestamp  `json:"failed_at"`
	Payload   queue.Job  `json:"payload"`
	Exception string     `json:"exception"`
	Error     string     `json:"error"`
	Backtrace []string   `json:"backtrace"`
	Worker    string     `json:"worker"`
	Queue     string     `json:"queue"`
	RetriedAt *Timestamp `json:"retried_at,omitempty"`

	// Index is the record's position in the log when it was read. It goes
	// stale as soon as the log is mutated.
	Index int64 `json:"-"`

	// Malformed marks a log entry that could not be decoded. Raw holds the
	// entry as stored.
	Malformed bool   `json:"-"`
	Raw       string `json:"-"`

	// fields is the document as read, keys the struct does not declare
	// included.
	fields map[string]json.RawMessage
}

func (r *Record) Retried() bool { return r.RetriedAt != nil && !r.RetriedAt.IsZero() }

// ToJSON encodes the record. A record read with RecordFromJSON is written
// back field for field as it was read, with only retried_at replaced.
func (r *Record) ToJSON() (string, error) {
	if r.fields == nil {
		data, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	fields := maps.Clone(r.fields)
	if r.Retried() {
		at, err := json.Marshal(r.RetriedAt)
		if err != nil {
			return "", err
		}
		fields["retried_at"] = at
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PayloadJSON is the job payload exactly as stored in the record, or the
// encoded Payload for a record that was built rather than read.
func (r *Record) PayloadJSON() (string, error) {
	if raw, ok := r.fields["payload"]; ok && string(raw) != "null" {
		return string(raw), nil
	}
	return r.Payload.ToJSON()
}

func RecordFromJSON(data string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.fields); err != nil {
		return nil, err
	}

	return &r, nil
}

// decodeEntry turns the log entry at position i into a record. An entry that
// does not decode comes back Malformed under the Unparseable queue and
// exception, so it is still counted, listed and removable.
func decodeEntry(entry string, i int64) *Record {
	rec, err := RecordFromJSON(entry)
	if err != nil {
		return &Record{
			Queue:     Unparseable,
			Exception: Unparseable,
			Error:     err.Error(),
			Index:     i,
			Malformed: true,
			Raw:       entry,
		}
	}
	rec.Index = i
	return rec
}
