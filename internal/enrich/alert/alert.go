// Package alert records pipeline failures and delivers them to sinks.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	tb "gopkg.in/telebot.v3"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/library/log"
)

// Alert is a structured failure record.
type Alert struct {
	ID         string             `json:"id"`
	Stage      string             `json:"stage"`
	Keyword    string             `json:"keyword"`
	Domain     string             `json:"domain"`
	Kind       enrich.Kind        `json:"kind"`
	Violations []schema.Violation `json:"violations,omitempty"`
	// Payload is the raw model output that failed, kept for inspection.
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates an alert with a fresh id.
func New(stage, keyword, domain string, kind enrich.Kind, payload string, violations []schema.Violation, now time.Time) *Alert {
	return &Alert{
		ID:         uuid.NewString(),
		Stage:      stage,
		Keyword:    keyword,
		Domain:     domain,
		Kind:       kind,
		Violations: append([]schema.Violation(nil), violations...),
		Payload:    payload,
		CreatedAt:  now,
	}
}

// Summary renders a short markdown description.
func (a *Alert) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* at `%s`\nkeyword: `%s` (%s)\n", a.Kind, a.Stage, a.Keyword, a.Domain)
	for _, v := range a.Violations {
		fmt.Fprintf(&b, "- %s\n", v.String())
	}
	return b.String()
}

// Sink accepts alerts.
type Sink interface {
	Send(ctx context.Context, a *Alert) error
}

// LogSink writes alerts to a logger.
type LogSink struct {
	logger logSDK.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the shared one.
func NewLogSink(logger logSDK.Logger) *LogSink {
	if logger == nil {
		logger = log.Logger.Named("alert")
	}
	return &LogSink{logger: logger}
}

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, a *Alert) error {
	s.logger.Error("enrichment alert",
		zap.String("id", a.ID),
		zap.String("stage", a.Stage),
		zap.String("keyword", a.Keyword),
		zap.String("domain", a.Domain),
		zap.String("kind", string(a.Kind)),
		zap.Strings("violations", schema.Codes(a.Violations)),
		zap.Int("payload_len", len(a.Payload)))
	return nil
}

// Pusher appends a json encoded value to a redis list.
type Pusher interface {
	RPush(ctx context.Context, key string, v any) error
}

// RedisSink queues alerts on a redis list for an external consumer.
type RedisSink struct {
	pusher Pusher
	key    string
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(pusher Pusher, key string) (*RedisSink, error) {
	if pusher == nil {
		return nil, errors.New("redis pusher is nil")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("redis alert key is empty")
	}
	return &RedisSink{pusher: pusher, key: key}, nil
}

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, a *Alert) error {
	if err := s.pusher.RPush(ctx, s.key, a); err != nil {
		return errors.Wrapf(err, "push alert %s", a.ID)
	}
	return nil
}

// telegramSender is satisfied by *tb.Bot.
type telegramSender interface {
	Send(to tb.Recipient, what any, opts ...any) (*tb.Message, error)
}

// TelegramSink posts an alert summary to a chat.
type TelegramSink struct {
	bot  telegramSender
	chat *tb.Chat
}

// NewTelegramSink creates a TelegramSink backed by an offline bot,
// it only sends and never polls updates.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new telegram bot")
	}
	return newTelegramSink(bot, chatID), nil
}

func newTelegramSink(bot telegramSender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chat: &tb.Chat{ID: chatID}}
}

// Send implements Sink.
func (s *TelegramSink) Send(_ context.Context, a *Alert) error {
	if _, err := s.bot.Send(s.chat, a.Summary(), &tb.SendOptions{
		ParseMode: tb.ModeMarkdown,
	}); err != nil {
		return errors.Wrapf(err, "send alert %s to telegram", a.ID)
	}
	return nil
}

// MultiSink fans an alert out to every sink.
type MultiSink []Sink

// Send implements Sink. Every sink is tried, failures are joined.
func (m MultiSink) Send(ctx context.Context, a *Alert) error {
	var failed []string
	for _, s := range m {
		if err := s.Send(ctx, a); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("%d alert sink(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}
