package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tarz-one/Companion/internal/bus"
	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/protocol"
)

// Service reads frames from a Source, segments them into utterances with the
// VAD and publishes them on the bus for the recognizer.
type Service struct {
	cfg    config.AudioConfig
	bus    *bus.Client
	source Source
	logger *slog.Logger
	vad    *VAD

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool

	framesCounter     metric.Int64Counter
	utterancesCounter metric.Int64Counter
}

func NewService(parent context.Context, cfg config.AudioConfig, busClient *bus.Client, source Source, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		source: source,
		logger: logger.With(slog.String("component", "audio-capture")),
		vad:    NewVAD(cfg.VAD, cfg.FrameDurationMS),
		ctx:    ctx,
		cancel: cancel,
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/tarz-one/Companion/audio")
	var err error
	if s.framesCounter, err = meter.Int64Counter("companion.audio.frames_published"); err != nil {
		s.logger.Warn("failed to create frame counter", slog.String("error", err.Error()))
	}
	if s.utterancesCounter, err = meter.Int64Counter("companion.audio.utterances"); err != nil {
		s.logger.Warn("failed to create utterance counter", slog.String("error", err.Error()))
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.source.Start(); err != nil {
		return err
	}
	s.ready = true
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if err := s.source.Close(); err != nil {
		s.logger.Warn("failed to close audio source", slog.String("error", err.Error()))
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) run() {
	defer s.wg.Done()

	var (
		sessionID string
		sequence  int
		elapsed   time.Duration
	)
	frameDur := time.Duration(s.cfg.FrameDurationMS) * time.Millisecond
	maxUtterance := time.Duration(s.cfg.MaxUtteranceMS) * time.Millisecond

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		samples, err := s.source.ReadFrame()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return
			}
			s.logger.Warn("failed to read audio frame", slog.String("error", err.Error()))
			time.Sleep(frameDur)
			continue
		}

		_, started, ended := s.vad.Process(samples)
		if started {
			sessionID = uuid.NewString()
			sequence = 0
			elapsed = 0
			s.logger.Debug("utterance started", slog.String("session_id", sessionID))
		}
		if sessionID == "" {
			continue
		}

		elapsed += frameDur
		final := ended || elapsed >= maxUtterance
		s.publish(sessionID, sequence, samples, final)
		sequence++

		if final {
			s.logger.Debug("utterance closed",
				slog.String("session_id", sessionID),
				slog.Int("frames", sequence),
				slog.Duration("duration", elapsed))
			if s.utterancesCounter != nil {
				s.utterancesCounter.Add(s.ctx, 1)
			}
			sessionID = ""
			s.vad.Reset()
		}
	}
}

func (s *Service) publish(sessionID string, sequence int, samples []int16, final bool) {
	frame := protocol.AudioFrame{
		SessionID:  sessionID,
		Sequence:   sequence,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		PCM:        pcmBytes(samples),
		Final:      final,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("failed to marshal audio frame", slog.String("error", err.Error()))
		return
	}
	subject := protocol.SubjectAudioFramePrefix + "." + sessionID
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish audio frame", slog.String("error", err.Error()))
		return
	}
	if s.framesCounter != nil {
		s.framesCounter.Add(s.ctx, 1)
	}
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
