package osc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tarz-one/Companion/internal/config"
)

// Emitter sends OSC datagrams to the installation controller. A detected
// keyword becomes `<address> 1` (int32). With pulse_reset_ms set it is
// followed by `<address> 0` so OSC In CHOP channels fall back to zero.
type Emitter struct {
	cfg    config.OSCConfig
	client *goosc.Client
	logger *slog.Logger
	wg     sync.WaitGroup

	sentCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
}

func NewEmitter(cfg config.OSCConfig, logger *slog.Logger) *Emitter {
	e := &Emitter{
		cfg:    cfg,
		client: goosc.NewClient(cfg.Host, cfg.Port),
		logger: logger.With(slog.String("component", "osc")),
	}
	meter := otel.Meter("github.com/tarz-one/Companion/osc")
	var err error
	if e.sentCounter, err = meter.Int64Counter("companion.osc.messages_sent"); err != nil {
		e.logger.Warn("failed to create sent counter", slog.String("error", err.Error()))
	}
	if e.errorCounter, err = meter.Int64Counter("companion.osc.send_errors"); err != nil {
		e.logger.Warn("failed to create error counter", slog.String("error", err.Error()))
	}
	return e
}

// EmitKeyword sends the trigger message for a detection.
func (e *Emitter) EmitKeyword(address string) error {
	if err := e.send(address, int32(1)); err != nil {
		return err
	}
	if e.cfg.PulseResetMS > 0 {
		e.wg.Add(1)
		time.AfterFunc(time.Duration(e.cfg.PulseResetMS)*time.Millisecond, func() {
			defer e.wg.Done()
			_ = e.send(address, int32(0))
		})
	}
	return nil
}

// EmitTranscript mirrors the full transcript text to the controller.
func (e *Emitter) EmitTranscript(text string) error {
	return e.send(e.cfg.TranscriptAddress, text)
}

func (e *Emitter) send(address string, arg interface{}) error {
	msg := goosc.NewMessage(address)
	msg.Append(arg)
	if err := e.client.Send(msg); err != nil {
		if e.errorCounter != nil {
			e.errorCounter.Add(context.Background(), 1)
		}
		e.logger.Warn("osc send failed",
			slog.String("address", address),
			slog.String("error", err.Error()))
		return err
	}
	if e.sentCounter != nil {
		e.sentCounter.Add(context.Background(), 1)
	}
	return nil
}

// Close waits for any pending reset pulses.
func (e *Emitter) Close() {
	e.wg.Wait()
}
