package source

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/library/log"
)

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// DefaultDomain tags messages that carry no domain.
	DefaultDomain string
}

// KafkaSource consumes {"keyword": "...", "domain": "..."} messages.
// It never ends on its own, Next returns io.EOF only after Close.
type KafkaSource struct {
	group         sarama.ConsumerGroup
	topic         string
	defaultDomain string
	logger        logSDK.Logger

	items  chan delivery
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type delivery struct {
	raw keyword.Raw
	ack func()
}

// NewKafkaSource joins the consumer group and starts consuming.
func NewKafkaSource(ctx context.Context, cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka brokers, topic and group id are required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V3_6_0_0
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, "new kafka consumer group")
	}

	return newKafkaSource(ctx, group, cfg), nil
}

func newKafkaSource(ctx context.Context, group sarama.ConsumerGroup, cfg KafkaConfig) *KafkaSource {
	ctx, cancel := context.WithCancel(ctx)
	s := &KafkaSource{
		group:         group,
		topic:         cfg.Topic,
		defaultDomain: cfg.DefaultDomain,
		logger:        log.Logger.Named("kafka_source").With(zap.String("topic", cfg.Topic)),
		items:         make(chan delivery),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go s.consume(ctx)
	go s.drainErrors()
	return s
}

func (s *KafkaSource) consume(ctx context.Context) {
	defer close(s.done)
	handler := &claimHandler{source: s}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("kafka consume", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *KafkaSource) drainErrors() {
	for err := range s.group.Errors() {
		s.logger.Warn("kafka consumer error", zap.Error(err))
	}
}

// Next implements Source. The message is committed once handed out.
func (s *KafkaSource) Next(ctx context.Context) (keyword.Raw, error) {
	select {
	case <-ctx.Done():
		return keyword.Raw{}, ctx.Err()
	case <-s.done:
		return keyword.Raw{}, io.EOF
	case d := <-s.items:
		d.ack()
		return d.raw, nil
	}
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.group.Close()
		<-s.done
	})
	if err != nil {
		return errors.Wrap(err, "close kafka consumer group")
	}
	return nil
}

// decode parses one message. ok is false for messages to skip.
func (s *KafkaSource) decode(value []byte) (keyword.Raw, bool) {
	var raw keyword.Raw
	if err := json.Unmarshal(value, &raw); err != nil {
		s.logger.Warn("skip malformed keyword message", zap.Error(err))
		return raw, false
	}
	if strings.TrimSpace(raw.Text) == "" {
		s.logger.Warn("skip keyword message without keyword")
		return raw, false
	}
	if strings.TrimSpace(raw.Domain) == "" {
		raw.Domain = s.defaultDomain
	}
	return raw, true
}

// claimHandler implements sarama.ConsumerGroupHandler.
type claimHandler struct {
	source *KafkaSource
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}

			raw, valid := h.source.decode(msg.Value)
			if !valid {
				session.MarkMessage(msg, "")
				continue
			}

			d := delivery{raw: raw, ack: func() { session.MarkMessage(msg, "") }}
			select {
			case h.source.items <- d:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
