package protocol

import "time"

// AudioFrame carries PCM audio captured from the microphone. Samples are
// 16-bit little-endian unless the frame says otherwise.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is recognizer output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Detection is a keyword hit inside a transcript. Keyword is the canonical
// vocabulary name, Term the surface form that actually matched.
type Detection struct {
	SessionID string    `json:"session_id"`
	Keyword   string    `json:"keyword"`
	Term      string    `json:"term"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectKeywordDetected   = "keyword.detected"
)
