package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	// Ephemeral mode accepts writes and returns nothing.
	if err := es.RecordUtterance(context.Background(), "s1", "hello", 0.9); err != nil {
		t.Fatalf("record utterance: %v", err)
	}
	detections, err := es.RecentDetections(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if detections != nil {
		t.Fatalf("expected no detections, got %v", detections)
	}
}

func TestRecordAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.RecordUtterance(context.Background(), sessionID, "i love this", 0.87); err != nil {
		t.Fatalf("record utterance: %v", err)
	}
	if err := es.RecordDetection(context.Background(), protocol.Detection{
		SessionID: sessionID,
		Keyword:   "love",
		Term:      "love",
		Address:   "/keyword/love",
	}); err != nil {
		t.Fatalf("record detection: %v", err)
	}

	utterances, err := es.SessionUtterances(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("session utterances: %v", err)
	}
	if len(utterances) != 1 || utterances[0].Text != "i love this" {
		t.Fatalf("unexpected utterances: %v", utterances)
	}

	detections, err := es.RecentDetections(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	if detections[0].Keyword != "love" || detections[0].Address != "/keyword/love" {
		t.Fatalf("unexpected detection: %+v", detections[0])
	}
}

func TestRecentDetectionsNewestFirst(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	for i, kw := range []string{"love", "hate", "stop"} {
		if err := es.RecordDetection(context.Background(), protocol.Detection{
			SessionID: "s1",
			Keyword:   kw,
			Address:   "/keyword/" + kw,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("record detection: %v", err)
		}
	}

	detections, err := es.RecentDetections(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(detections))
	}
	if detections[0].Keyword != "stop" || detections[1].Keyword != "hate" {
		t.Fatalf("expected newest first, got %v", detections)
	}
}

func TestPruneByDaysAndRows(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(tmp, "events.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxUtterances: 1,
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordUtterance(context.Background(), "old-session", "old", 0); err != nil {
		t.Fatalf("record utterance: %v", err)
	}
	if err := es.RecordDetection(context.Background(), protocol.Detection{
		SessionID: "old-session", Keyword: "stop", Address: "/keyword/stop",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("record detection: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordUtterance(context.Background(), "new-session", "new", 0); err != nil {
		t.Fatalf("record utterance: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := es.SessionUtterances(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("session utterances: %v", err)
	}
	if len(old) != 0 {
		t.Fatal("expected old utterances pruned")
	}
	detections, err := es.RecentDetections(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if len(detections) != 0 {
		t.Fatal("expected old detections pruned")
	}
	kept, err := es.SessionUtterances(context.Background(), "new-session", 10)
	if err != nil {
		t.Fatalf("session utterances: %v", err)
	}
	if len(kept) != 1 {
		t.Fatal("expected new utterance kept")
	}
}
