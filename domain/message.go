// Package domain contains core concepts of the chat system.
// This file defines Message values exchanged with the server and the rules
// used to correlate them with a conversation.
// Messages are immutable once received.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	chaterrors "konnekt-chat/errors"

	"github.com/go-playground/validator/v10"
)

// TimestampLayout is the textual date pattern the server stamps messages with.
const TimestampLayout = "Mon Jan 02 15:04:05 GMT 2006"

// fallbackTime is displayed when a timestamp cannot be parsed.
const fallbackTime = "00:00"

var validate = validator.New()

// Message is the canonical wire shape of a chat message, in both directions.
type Message struct {
	ID          string `json:"_id,omitempty"`
	ChatID      string `json:"chat_id" validate:"required"`
	SenderID    string `json:"sender_id" validate:"required"`
	RecipientID string `json:"recipient_id" validate:"required"`
	Body        string `json:"message"`
	Timestamp   string `json:"timestamp" validate:"required"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

// OutboundMessage is what a client sends. The server fills in everything else.
type OutboundMessage struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Body        string `json:"message" validate:"required"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

// ChatID derives the conversation key shared by two participants.
// ChatID(a, b) == ChatID(b, a).
func ChatID(userID1, userID2 string) string {
	ids := []string{userID1, userID2}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Identity returns a stable key used to deduplicate messages coming from
// the REST history and the live stream.
func (m Message) Identity() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return strings.Join([]string{"c", m.SenderID, m.Timestamp, m.Body}, "|")
}

// Time parses the server timestamp.
func (m Message) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, m.Timestamp)
}

// FormattedTime renders the message time as HH:mm, or "00:00" when the
// timestamp is not in the server format.
func (m Message) FormattedTime() string {
	t, err := m.Time()
	if err != nil {
		return fallbackTime
	}
	return t.Format("15:04")
}

// FormatTimestamp renders t the way the server stamps messages.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DecodeMessage strictly decodes one inbound frame.
// Any failure is reported as a *errors.ParseError so callers can tell a bad
// frame apart from no frame at all.
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &chaterrors.ParseError{Reason: fmt.Sprintf("invalid json: %v", err), Raw: string(raw)}
	}
	if err := validate.Struct(msg); err != nil {
		return Message{}, &chaterrors.ParseError{Reason: fmt.Sprintf("invalid message: %v", err), Raw: string(raw)}
	}
	return msg, nil
}

// DecodeOutbound decodes and validates a frame sent by a client.
func DecodeOutbound(raw []byte) (OutboundMessage, error) {
	var out OutboundMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return OutboundMessage{}, &chaterrors.ParseError{Reason: fmt.Sprintf("invalid json: %v", err), Raw: string(raw)}
	}
	if err := validate.Struct(out); err != nil {
		return OutboundMessage{}, &chaterrors.ParseError{Reason: fmt.Sprintf("invalid outbound message: %v", err), Raw: string(raw)}
	}
	return out, nil
}
