package audio

import (
	"errors"
	"time"

	"github.com/tarz-one/Companion/internal/config"
)

// ErrSourceClosed is returned by ReadFrame once the source has been closed.
var ErrSourceClosed = errors.New("audio source closed")

// Source abstracts where PCM frames come from so the capture service can run
// against real hardware or without any.
type Source interface {
	Start() error
	// ReadFrame blocks until one frame of samples is available. The returned
	// slice is only valid until the next call.
	ReadFrame() ([]int16, error)
	Close() error
}

// mockSource paces out silent frames in real time. It keeps the pipeline wired
// end to end on machines without a microphone.
type mockSource struct {
	buf    []int16
	period time.Duration
	ticker *time.Ticker
	done   chan struct{}
}

func NewMockSource(cfg config.AudioConfig) Source {
	samples := cfg.SampleRate * cfg.FrameDurationMS / 1000 * cfg.Channels
	return &mockSource{
		buf:    make([]int16, samples),
		period: time.Duration(cfg.FrameDurationMS) * time.Millisecond,
		done:   make(chan struct{}),
	}
}

func (m *mockSource) Start() error {
	m.ticker = time.NewTicker(m.period)
	return nil
}

func (m *mockSource) ReadFrame() ([]int16, error) {
	select {
	case <-m.ticker.C:
		return m.buf, nil
	case <-m.done:
		return nil, ErrSourceClosed
	}
}

func (m *mockSource) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	return nil
}
