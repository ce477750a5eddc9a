package main

import (
	"fmt"
	"io"

	"konnekt-chat/domain"
	"konnekt-chat/services"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// renderer prints the session snapshots it is fed as a terminal chat screen.
// The history is printed once as a table, live messages as single lines.
type renderer struct {
	out     io.Writer
	userID  string
	colours bool

	shown      int
	ready      bool
	connection domain.ConnectionState
	lastError  string
}

func newRenderer(out io.Writer, userID string, colours bool) *renderer {
	return &renderer{out: out, userID: userID, colours: colours, connection: -1}
}

func (r *renderer) render(state services.SessionState) {
	if state.Connection != r.connection {
		r.connection = state.Connection
		r.status(fmt.Sprintf("connection %s", state.Connection))
	}

	if state.Error != "" && state.Error != r.lastError {
		r.println(r.paint(color.FgRed, "! "+state.Error))
	}
	r.lastError = state.Error

	if !r.ready {
		if state.Phase != services.PhaseReady {
			return
		}
		r.ready = true
		r.history(state.Messages)
		r.shown = len(state.Messages)
		return
	}

	// A reload may shrink the list; start over from its end.
	if len(state.Messages) < r.shown {
		r.shown = len(state.Messages)
	}
	for _, msg := range state.Messages[r.shown:] {
		r.println(r.line(msg))
	}
	r.shown = len(state.Messages)
}

func (r *renderer) history(messages []domain.Message) {
	if len(messages) == 0 {
		r.status("no messages yet")
		return
	}
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Time", "From", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.AppendBulk(lo.Map(messages, func(msg domain.Message, _ int) []string {
		return []string{msg.FormattedTime(), msg.SenderID, msg.Body}
	}))
	table.Render()
}

func (r *renderer) line(msg domain.Message) string {
	author := msg.SenderID
	colour := color.FgCyan
	if msg.SenderID == r.userID {
		author = "me"
		colour = color.FgGreen
	}
	return fmt.Sprintf("[%s] %s: %s", msg.FormattedTime(), r.paint(colour, author), msg.Body)
}

func (r *renderer) status(text string) {
	r.println(r.paint(color.FgYellow, "-- "+text+" --"))
}

func (r *renderer) paint(c color.Color, text string) string {
	if !r.colours {
		return text
	}
	return color.New(c).Render(text)
}

func (r *renderer) println(text string) {
	_, _ = fmt.Fprintln(r.out, text)
}
