package alert

import (
	"context"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	tb "gopkg.in/telebot.v3"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

type fakePusher struct {
	key    string
	values []any
	err    error
}

func (p *fakePusher) RPush(_ context.Context, key string, v any) error {
	p.key = key
	p.values = append(p.values, v)
	return p.err
}

type fakeBot struct {
	to   tb.Recipient
	what any
	opts []any
}

func (b *fakeBot) Send(to tb.Recipient, what any, opts ...any) (*tb.Message, error) {
	b.to, b.what, b.opts = to, what, opts
	return &tb.Message{}, nil
}

func testAlert() *Alert {
	return New("postproc", "alpha corp", "market", enrich.KindValidationRejected, `{"fields":{}}`,
		[]schema.Violation{{Code: schema.CodeMissingField, Field: "summary", Message: "required field is missing"}},
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestNew(t *testing.T) {
	a := testAlert()
	b := testAlert()
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Contains(t, a.Summary(), "ValidationRejected")
	require.Contains(t, a.Summary(), "missing_field summary")
}

func TestRedisSink(t *testing.T) {
	_, err := NewRedisSink(nil, "k")
	require.Error(t, err)

	p := &fakePusher{}
	s, err := NewRedisSink(p, "enrich/alerts")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), testAlert()))
	require.Equal(t, "enrich/alerts", p.key)
	require.Len(t, p.values, 1)
}

func TestTelegramSink(t *testing.T) {
	bot := &fakeBot{}
	s := newTelegramSink(bot, 42)
	require.NoError(t, s.Send(context.Background(), testAlert()))
	require.Equal(t, "42", bot.to.Recipient())
	require.Contains(t, bot.what, "alpha corp")
	require.Len(t, bot.opts, 1)
}

func TestMultiSink(t *testing.T) {
	ok := &fakePusher{}
	bad := &fakePusher{err: errors.New("down")}
	okSink, _ := NewRedisSink(ok, "a")
	badSink, _ := NewRedisSink(bad, "b")

	m := MultiSink{badSink, NewLogSink(nil), okSink}
	err := m.Send(context.Background(), testAlert())
	require.ErrorContains(t, err, "1 alert sink(s) failed")
	require.Len(t, ok.values, 1)
	require.Len(t, bad.values, 1)

	require.NoError(t, MultiSink{okSink}.Send(context.Background(), testAlert()))
}
