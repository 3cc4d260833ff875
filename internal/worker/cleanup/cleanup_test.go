package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type mockCleaner struct {
	cleanupFn func(ctx context.Context) (int, error)
	calls     int
}

func (m *mockCleaner) CleanupExpiredSessions(ctx context.Context) (int, error) {
	m.calls++
	if m.cleanupFn != nil {
		return m.cleanupFn(ctx)
	}
	return 0, nil
}

// 削除件数がログに記録されることを検証
func TestCleanupJob_Run(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cleaner := &mockCleaner{
		cleanupFn: func(ctx context.Context) (int, error) {
			return 3, nil
		},
	}
	job := NewCleanupJob(cleaner, nil, logger)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["deleted_count"] != float64(3) {
		t.Errorf("deleted_count = %v, want 3", entry["deleted_count"])
	}
}

// 削除失敗がエラーとして返ることを検証
func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cleaner := &mockCleaner{
		cleanupFn: func(ctx context.Context) (int, error) {
			return 0, errors.New("docstore unavailable")
		},
	}
	job := NewCleanupJob(cleaner, nil, logger)

	if err := job.Run(context.Background()); err == nil {
		t.Error("Run() should fail when cleanup fails")
	}
}

// Startが起動直後に1回実行し、キャンセルで停止することを検証
func TestCleanupJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cleaner := &mockCleaner{}
	job := NewCleanupJob(cleaner, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 初回実行を待つ
	deadline := time.After(2 * time.Second)
	for cleaner.calls == 0 {
		select {
		case <-deadline:
			t.Fatal("initial cleanup run did not happen")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not stop after context cancel")
	}
}
