package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slackapi "github.com/slack-go/slack"
)

// levelColor maps levels to attachment and embed colors.
var levelColor = map[Level]int{
	LevelInfo:    0x3498db,
	LevelSuccess: 0x2ecc71,
	LevelWarning: 0xf1c40f,
	LevelError:   0xe74c3c,
}

const (
	defaultRelayQueue   = 16
	defaultRelayTimeout = 5 * time.Second
)

// relay posts notices from a bounded queue on its own goroutine. Notices
// arriving while the queue is full are dropped.
type relay struct {
	name    string
	send    func(ctx context.Context, n Notice) error
	timeout time.Duration
	logger  *zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Notice
	done   chan struct{}
}

func newRelay(name string, size int, timeout time.Duration, logger *zerolog.Logger, send func(context.Context, Notice) error) *relay {
	if size <= 0 {
		size = defaultRelayQueue
	}
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	r := &relay{
		name:    name,
		send:    send,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan Notice, size),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *relay) loop() {
	defer close(r.done)
	for n := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.send(ctx, n); err != nil {
			r.logger.Warn().Err(err).Str("sink", r.name).Msg("notify: webhook")
		}
		cancel()
	}
}

func (r *relay) push(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- n:
	default:
		r.logger.Warn().Str("sink", r.name).Str("notice", n.String()).Msg("notify: queue full, notice dropped")
	}
}

// close stops accepting notices and waits for the queued ones to be posted.
func (r *relay) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// webhookPoster abstracts slack.PostWebhookContext, enabling test mocks.
type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack relays passive notices to a Slack incoming webhook.
type Slack struct {
	url    string
	post   webhookPoster
	logger *zerolog.Logger
	relay  *relay
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	WebhookURL string
	Logger     *zerolog.Logger
	QueueSize  int           // defaults to 16
	Timeout    time.Duration // per post; defaults to 5s
	// For testing: replace the webhook call.
	Post webhookPoster
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("notify: slack webhook url is required")
	}
	s := &Slack{url: opts.WebhookURL, post: opts.Post, logger: opts.Logger}
	if s.post == nil {
		s.post = slackapi.PostWebhookContext
	}
	if s.logger == nil {
		s.logger = &log.Logger
	}
	s.relay = newRelay("slack", opts.QueueSize, opts.Timeout, s.logger, s.postNotice)
	return s, nil
}

// Notify implements Notifier. Only passive notices are relayed; they are
// queued and posted in the background.
func (s *Slack) Notify(_ context.Context, n Notice) {
	if n.Passive {
		s.relay.push(n)
	}
}

// Close posts the queued notices and stops the relay.
func (s *Slack) Close() error {
	s.relay.close()
	return nil
}

func (s *Slack) postNotice(ctx context.Context, n Notice) error {
	msg := &slackapi.WebhookMessage{
		Text: n.String(),
		Attachments: []slackapi.Attachment{{
			Color: fmt.Sprintf("#%06x", levelColor[n.Level]),
			Title: n.Title,
			Text:  n.Body,
		}},
	}
	return s.post(ctx, s.url, msg)
}

// webhookExecutor abstracts the discordgo.Session method we use.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord relays passive notices to a Discord channel webhook.
type Discord struct {
	id, token string
	exec      webhookExecutor
	logger    *zerolog.Logger
	relay     *relay
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	WebhookID    string
	WebhookToken string
	Logger       *zerolog.Logger
	QueueSize    int           // defaults to 16
	Timeout      time.Duration // per post; defaults to 5s
	// For testing: inject a mock executor instead of a real session.
	Executor webhookExecutor
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.WebhookID == "" || opts.WebhookToken == "" {
		return nil, fmt.Errorf("notify: discord webhook id and token are required")
	}
	d := &Discord{id: opts.WebhookID, token: opts.WebhookToken, exec: opts.Executor, logger: opts.Logger}
	if d.exec == nil {
		// Webhook execution is authorized by the webhook token alone.
		sess, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		d.exec = sess
	}
	if d.logger == nil {
		d.logger = &log.Logger
	}
	d.relay = newRelay("discord", opts.QueueSize, opts.Timeout, d.logger, d.postNotice)
	return d, nil
}

// Notify implements Notifier. Only passive notices are relayed; they are
// queued and posted in the background.
func (d *Discord) Notify(_ context.Context, n Notice) {
	if n.Passive {
		d.relay.push(n)
	}
}

// Close posts the queued notices and stops the relay.
func (d *Discord) Close() error {
	d.relay.close()
	return nil
}

func (d *Discord) postNotice(ctx context.Context, n Notice) error {
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       n.Title,
			Description: n.Body,
			Color:       levelColor[n.Level],
		}},
	}
	_, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx))
	return err
}
