// Package relay holds the records that move through the notification
// pipeline: the buffered notification appended at ingestion time and the
// dispatch message handed to delivery workers.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseMode is the optional rendering hint forwarded to the provider.
// The zero value means plain text.
type ParseMode string

const (
	ModeNone     ParseMode = ""
	ModeMarkdown ParseMode = "Markdown"
	ModeHTML     ParseMode = "HTML"
)

// ParseModeFrom normalizes a user-supplied format string.
func ParseModeFrom(s string) (ParseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ModeNone, nil
	case "markdown":
		return ModeMarkdown, nil
	case "html":
		return ModeHTML, nil
	default:
		return ModeNone, fmt.Errorf("unknown format %q", s)
	}
}

// Notification is the unit buffered per partition. Once appended it is
// immutable; in particular BotToken is the token that was valid at ingestion
// time and is never re-resolved downstream (key rotation does not affect
// already-buffered records).
type Notification struct {
	TargetID   int64     `json:"target_id"`
	Message    string    `json:"message"`
	Format     ParseMode `json:"format,omitempty"`
	BotToken   string    `json:"bot_token"`
	EnqueuedAt int64     `json:"timestamp"` // unix milliseconds
}

func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

func DecodeNotification(b []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
