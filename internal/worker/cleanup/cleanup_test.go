package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	execCalled bool
	query      string
	args       []any
	result     sql.Result
	err        error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.execCalled = true
	m.query = query
	m.args = args
	return m.result, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

const week = 7 * 24 * time.Hour

func findLogValue(t *testing.T, out, key string) (any, bool) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestRefreshTokenSweep_Run_ClearsOnlyStaleTokens(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 3}}
	job := NewRefreshTokenSweep(mock, newTestLogger(&buf), week)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !mock.execCalled {
		t.Fatal("ExecContext was not called")
	}

	for _, want := range []string{"UPDATE users", "refresh_token = NULL", "refresh_token IS NOT NULL", "updated_at <"} {
		if !strings.Contains(mock.query, want) {
			t.Errorf("query should contain %q: %s", want, mock.query)
		}
	}
	if strings.Contains(mock.query, "DELETE") {
		t.Errorf("sweep must not delete users: %s", mock.query)
	}
}

func TestRefreshTokenSweep_Run_PassesMaxAgeAsInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewRefreshTokenSweep(mock, newTestLogger(&buf), week)

	_ = job.Run(context.Background())

	if len(mock.args) != 1 {
		t.Fatalf("args = %v, want one interval argument", mock.args)
	}
	if got, _ := mock.args[0].(string); got != "604800 seconds" {
		t.Errorf("interval = %q, want %q", got, "604800 seconds")
	}
}

func TestRefreshTokenSweep_Run_LogsClearedCount(t *testing.T) {
	for _, n := range []int64{0, 42} {
		var buf bytes.Buffer
		mock := &mockExecutor{result: &fakeResult{rowsAffected: n}}
		job := NewRefreshTokenSweep(mock, newTestLogger(&buf), week)

		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}

		got, ok := findLogValue(t, buf.String(), "cleared_count")
		if !ok || got != float64(n) {
			t.Errorf("cleared_count = %v, want %d. log: %s", got, n, buf.String())
		}
	}
}

func TestRefreshTokenSweep_Run_ReturnsAndLogsDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewRefreshTokenSweep(mock, newTestLogger(&buf), week)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should return error when the database fails")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("expected ERROR log, got: %s", buf.String())
	}
}

func TestRefreshTokenSweep_Run_RejectsNonPositiveMaxAge(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewRefreshTokenSweep(mock, newTestLogger(&buf), 0)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("Run() should reject zero max age")
	}
	if mock.execCalled {
		t.Error("ExecContext should not be called for invalid max age")
	}
}

func TestRefreshTokenSweep_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewRefreshTokenSweep(mock, newTestLogger(&buf), week)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d returned error: %v", i+1, err)
		}
	}
}
