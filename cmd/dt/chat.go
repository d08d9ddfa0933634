package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/droptrack/internal/app"
	"github.com/zulandar/droptrack/internal/chat"
	"github.com/zulandar/droptrack/internal/dashboard"
	"github.com/zulandar/droptrack/internal/models"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		label      string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "chat <order>",
		Short: "Chat with the other party of an order",
		Long:  "Opens the conversation of an order. Each input line is sent as a message. Type /read to mark everything read and /quit to leave.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, args[0], label, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().StringVar(&label, "label", "", "conversation label (defaults to the order id)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "also serve the dashboard on this port")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, orderID, label string, port int) error {
	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	role := a.Credentials.Role()
	p := newTranscriptPrinter(cmd.OutOrStdout(), role)
	s, err := a.NewChat(p.update)
	if err != nil {
		return err
	}
	defer s.Close()

	if label == "" {
		label = "#" + orderID
	}
	if err := s.Open(ctx, orderID, label); err != nil {
		return err
	}

	if port > 0 {
		go serveDashboard(ctx, cmd, port, dashboard.Sources{
			Status: a.Realtime,
			Chat:   s,
			Badge:  a.Badge,
			Role:   role,
		})
	}

	return chatLoop(ctx, cancel, cmd.InOrStdin(), s)
}

// chatLoop sends each input line until EOF, /quit or cancellation.
func chatLoop(ctx context.Context, cancel context.CancelFunc, in io.Reader, s *chat.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch text := strings.TrimSpace(line); text {
			case "":
			case "/quit":
				cancel()
				return nil
			case "/read":
				s.MarkAllRead(ctx)
			default:
				s.Input()
				if err := s.Send(ctx, text); err != nil {
					log.Debug().Err(err).Msg("chat: send")
				}
			}
		}
	}
}

// transcriptPrinter prints each durable message once, plus typing changes.
type transcriptPrinter struct {
	out  io.Writer
	role string

	mu     sync.Mutex
	title  string
	seen   map[models.FlexID]bool
	typing string
}

func newTranscriptPrinter(out io.Writer, role string) *transcriptPrinter {
	return &transcriptPrinter{out: out, role: role, seen: map[models.FlexID]bool{}}
}

func (p *transcriptPrinter) update(v chat.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Open && v.Title != p.title {
		p.title = v.Title
		fmt.Fprintf(p.out, "== %s ==\n", v.Title)
	}
	for _, m := range v.Messages {
		if m.Optimistic() || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		bubbles := chat.Render(chat.View{Messages: []models.Message{m}}, p.role)
		if len(bubbles) == 1 {
			fmt.Fprintln(p.out, bubbles[0].Line())
		}
	}
	if v.Typing != p.typing {
		p.typing = v.Typing
		if v.Typing != "" {
			fmt.Fprintf(p.out, "%s is typing...\n", v.Typing)
		}
	}
}
