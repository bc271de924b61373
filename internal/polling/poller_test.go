package polling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

func TestNextInterval(t *testing.T) {
	assert.Equal(t, 120*time.Second, NextInterval(60*time.Second, 2, 600*time.Second))
	assert.Equal(t, 600*time.Second, NextInterval(500*time.Second, 2, 600*time.Second))
	// never decreases even if scalar < 1
	assert.Equal(t, 60*time.Second, NextInterval(60*time.Second, 0.5, 600*time.Second))
}

type fakeScannerClient struct {
	scanner.Client
	status ScanStatusOrErr
}

type ScanStatusOrErr struct {
	status scanner.ScanStatus
	err    error
}

func (f fakeScannerClient) GetScanStatus(ctx context.Context, scanID string) (scanner.ScanStatus, error) {
	return f.status.status, f.status.err
}

type fakeHandler struct {
	successes, failures int
}

func (h *fakeHandler) OnSuccess(ctx context.Context, projectID, scanID string, details []byte) error {
	h.successes++
	return nil
}

func (h *fakeHandler) OnFailure(ctx context.Context, projectID, scanID string, details []byte, errMsg string) error {
	h.failures++
	return nil
}

func TestTickExpiredDrops(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(fakeScannerClient{}, nil, nil, 2, 600*time.Second, nil)
	msg := envelope.ScanAwaitMessage{DropByTimestamp: now.Add(-time.Minute)}
	require.NoError(t, p.Tick(context.Background(), msg, 60*time.Second, now))
}

func TestTickSuccessDispatchesFeedback(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &fakeHandler{}
	p := New(fakeScannerClient{status: ScanStatusOrErr{status: scanner.StatusCompleted}}, nil, []FeedbackHandler{h}, 2, 600*time.Second, nil)
	msg := envelope.ScanAwaitMessage{DropByTimestamp: now.Add(time.Hour), ProjectID: "p", ScanID: "s"}
	require.NoError(t, p.Tick(context.Background(), msg, 60*time.Second, now))
	assert.Equal(t, 1, h.successes)
	assert.Equal(t, 0, h.failures)
}

func TestTickFailureDispatchesFeedback(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &fakeHandler{}
	p := New(fakeScannerClient{status: ScanStatusOrErr{status: scanner.StatusFailed}}, nil, []FeedbackHandler{h}, 2, 600*time.Second, nil)
	msg := envelope.ScanAwaitMessage{DropByTimestamp: now.Add(time.Hour), ProjectID: "p", ScanID: "s"}
	require.NoError(t, p.Tick(context.Background(), msg, 60*time.Second, now))
	assert.Equal(t, 0, h.successes)
	assert.Equal(t, 1, h.failures)
}

func TestNewAwaitDefaultsCumulativeDrop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := NewAwait(envelope.Header{}, "proj", "scan", nil, now, 0)
	assert.Equal(t, now.Add(DefaultCumulativeDrop), msg.DropByTimestamp)
	assert.Equal(t, envelope.StateAwait, msg.State)
}
