package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of traffic on an agent channel. Subject is a
// hierarchical string ("rcon.connect", "agent.logs.line") used for dispatch;
// request/response pairs carry a generated reply inbox subject.
type Envelope struct {
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Reply     string          `json:"reply,omitempty"`
}

const inboxPrefix = "_INBOX."

func NewEnvelope(subject string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope data for %s: %w", subject, err)
	}
	return Envelope{
		Subject:   subject,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewInbox returns a fresh one-shot reply subject.
func NewInbox() string {
	return inboxPrefix + uuid.NewString()
}

func IsInbox(subject string) bool {
	return strings.HasPrefix(subject, inboxPrefix)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Subject, err)
	}
	return nil
}
