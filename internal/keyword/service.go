package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tarz-one/Companion/internal/bus"
	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/eventstore"
	"github.com/tarz-one/Companion/internal/protocol"
)

// Service listens for transcripts, runs the matcher and publishes detections
// for the OSC emitter. Transcripts and detections are appended to the event
// store timeline.
type Service struct {
	cfg     config.KeywordConfig
	bus     *bus.Client
	matcher *Matcher
	store   *eventstore.Store
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	detectionsCounter metric.Int64Counter
}

func NewService(parent context.Context, cfg config.KeywordConfig, busClient *bus.Client, store *eventstore.Store, logger *slog.Logger) (*Service, error) {
	matcher, err := NewMatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("build matcher: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		matcher: matcher,
		store:   store,
		logger:  logger.With(slog.String("component", "keyword")),
		ctx:     ctx,
		cancel:  cancel,
	}
	meter := otel.Meter("github.com/tarz-one/Companion/keyword")
	if s.detectionsCounter, err = meter.Int64Counter("companion.keyword.detections"); err != nil {
		s.logger.Warn("failed to create detection counter", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe final transcripts: %w", err)
	}
	s.subs = append(s.subs, sub)

	if s.cfg.MatchPartial {
		partial, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptPartial, s.handleTranscript)
		if err != nil {
			_ = sub.Drain()
			return fmt.Errorf("subscribe partial transcripts: %w", err)
		}
		s.subs = append(s.subs, partial)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || len(s.subs) > 0
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slog.String("error", err.Error()))
		return
	}
	if transcript.Text == "" {
		return
	}

	if !transcript.Partial {
		s.record(transcript)
	}

	matches := s.matcher.Scan(transcript.Text)
	if len(matches) == 0 {
		return
	}
	s.logger.Info("keywords detected",
		slog.String("session_id", transcript.SessionID),
		slog.Int("count", len(matches)))

	for _, match := range matches {
		s.publishDetection(transcript.SessionID, match)
	}
}

func (s *Service) record(transcript protocol.Transcript) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.store.RecordUtterance(ctx, transcript.SessionID, transcript.Text, transcript.Confidence); err != nil {
		s.logger.Warn("failed to record utterance", slog.String("error", err.Error()))
	}
}

func (s *Service) publishDetection(sessionID string, match Match) {
	detection := protocol.Detection{
		SessionID: sessionID,
		Keyword:   match.Keyword,
		Term:      match.Term,
		Address:   match.Address,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(detection)
	if err != nil {
		s.logger.Warn("failed to marshal detection", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectKeywordDetected, data); err != nil {
		s.logger.Warn("failed to publish detection", slog.String("error", err.Error()))
		return
	}
	if s.detectionsCounter != nil {
		s.detectionsCounter.Add(s.ctx, 1,
			metric.WithAttributes(attribute.String("keyword", detection.Keyword)))
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.store.RecordDetection(ctx, detection); err != nil {
			s.logger.Warn("failed to record detection", slog.String("error", err.Error()))
		}
	}
}
