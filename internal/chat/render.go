package chat

import (
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/droptrack/internal/realtime"
)

var _ realtime.ChatHandler = (*Session)(nil)

// Bubble is one rendered chat line.
type Bubble struct {
	Text    string `json:"text"`
	Time    string `json:"time,omitempty"`
	Own     bool   `json:"own"`
	Pending bool   `json:"pending,omitempty"`
	Read    bool   `json:"read,omitempty"`
}

// Line formats b as one transcript line. Own lines start with ">".
func (b Bubble) Line() string {
	side := "<"
	if b.Own {
		side = ">"
	}
	mark := ""
	if b.Pending {
		mark = " (sending)"
	} else if b.Own && b.Read {
		mark = " (read)"
	}
	return fmt.Sprintf("%s [%s] %s%s", side, b.Time, b.Text, mark)
}

// Render turns a view into bubbles. Lines without a body or sender are
// skipped. A line is own when its sender equals role.
func Render(v View, role string) []Bubble {
	out := make([]Bubble, 0, len(v.Messages))
	for _, m := range v.Messages {
		if !m.Renderable() {
			continue
		}
		b := Bubble{
			Text:    m.Body,
			Own:     m.Sender == role,
			Pending: m.Optimistic(),
			Read:    m.Read,
		}
		if !m.CreatedAt.IsZero() {
			b.Time = m.CreatedAt.Local().Format("15:04")
		}
		out = append(out, b)
	}
	return out
}

// WriteTranscript prints the rendered view as plain text lines.
func WriteTranscript(w io.Writer, v View, role string) error {
	if !v.Open {
		_, err := fmt.Fprintln(w, "chat closed")
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", v.Title)
	bubbles := Render(v, role)
	if len(bubbles) == 0 {
		sb.WriteString("no messages yet\n")
	}
	for _, b := range bubbles {
		sb.WriteString(b.Line())
		sb.WriteByte('\n')
	}
	if v.Typing != "" {
		fmt.Fprintf(&sb, "%s is typing...\n", v.Typing)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
