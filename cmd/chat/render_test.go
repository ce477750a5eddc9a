package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"konnekt-chat/domain"
	"konnekt-chat/services"

	"github.com/stretchr/testify/require"
)

func chatMessage(sender, recipient, body string) domain.Message {
	return domain.Message{
		ChatID:      domain.ChatID(sender, recipient),
		SenderID:    sender,
		RecipientID: recipient,
		Body:        body,
		Timestamp:   domain.FormatTimestamp(time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)),
	}
}

func TestRenderer_History_Then_Live_Lines(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	screen := newRenderer(&out, "u1", false)
	history := []domain.Message{chatMessage("u2", "u1", "hello"), chatMessage("u1", "u2", "hi back")}

	// Given the session is still loading
	screen.render(services.SessionState{Phase: services.PhaseLoading, Connection: domain.Connected, Connected: true})
	req.Contains(out.String(), "-- connection connected --")
	req.NotContains(out.String(), "hello")

	// When the history arrives
	screen.render(services.SessionState{Phase: services.PhaseReady, Connection: domain.Connected, Messages: history})

	// Then it is printed as a table
	req.Contains(out.String(), "hello")
	req.Contains(out.String(), "09:15")

	// And later messages are printed once, as lines
	out.Reset()
	live := append(history, chatMessage("u1", "u2", "live one"))
	screen.render(services.SessionState{Phase: services.PhaseReady, Connection: domain.Connected, Messages: live})
	screen.render(services.SessionState{Phase: services.PhaseReady, Connection: domain.Connected, Messages: live})

	req.Equal("[09:15] me: live one\n", out.String())
}

func TestRenderer_Errors_And_Connection_Changes(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	screen := newRenderer(&out, "u1", false)

	state := services.SessionState{Phase: services.PhaseReady, Connection: domain.Connected}
	screen.render(state)
	out.Reset()

	// When the connection drops and a send is refused
	state.Connection = domain.Disconnected
	state.Error = "cannot send: connection lost"
	screen.render(state)
	screen.render(state)

	// Then both are reported once
	printed := out.String()
	req.Equal(1, strings.Count(printed, "connection lost"))
	req.Contains(printed, "-- connection disconnected --")
}

func TestRenderer_Empty_History(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	screen := newRenderer(&out, "u1", false)

	screen.render(services.SessionState{Phase: services.PhaseReady, Connection: domain.Connected})

	req.Contains(out.String(), "no messages yet")
}
