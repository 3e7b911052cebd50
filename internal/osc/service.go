package osc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tarz-one/Companion/internal/bus"
	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/protocol"
)

// Service bridges the bus to the OSC wire: keyword detections become trigger
// messages, and optionally final transcripts are mirrored as text. Send
// failures are logged and never propagate back into the capture loop.
type Service struct {
	cfg     config.OSCConfig
	bus     *bus.Client
	emitter *Emitter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
}

func NewService(parent context.Context, cfg config.OSCConfig, busClient *bus.Client, emitter *Emitter, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "osc-service")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectKeywordDetected, s.handleDetection)
	if err != nil {
		return fmt.Errorf("subscribe detections: %w", err)
	}
	s.subs = append(s.subs, sub)

	if s.cfg.SendTranscripts {
		transcripts, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
		if err != nil {
			_ = sub.Drain()
			return fmt.Errorf("subscribe transcripts: %w", err)
		}
		s.subs = append(s.subs, transcripts)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.emitter.Close()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || len(s.subs) > 0
}

func (s *Service) handleDetection(msg *nats.Msg) {
	var detection protocol.Detection
	if err := json.Unmarshal(msg.Data, &detection); err != nil {
		s.logger.Warn("failed to decode detection", slog.String("error", err.Error()))
		return
	}
	if detection.Address == "" {
		return
	}
	s.logger.Info("emitting keyword",
		slog.String("keyword", detection.Keyword),
		slog.String("address", detection.Address))
	_ = s.emitter.EmitKeyword(detection.Address)
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
	_ = s.emitter.EmitTranscript(transcript.Text)
}
