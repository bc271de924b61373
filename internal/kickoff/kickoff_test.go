package kickoff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

type fakeScannerClient struct {
	scanner.Client
	scans []scanner.Scan
}

func (f fakeScannerClient) FindScans(ctx context.Context, projectID string, tagFilter map[string]string) ([]scanner.Scan, error) {
	return f.scans, nil
}

func noopExec(ctx context.Context, projectID string, tags map[string]string) (scanner.Scan, error) {
	return scanner.Scan{ID: "new-scan"}, nil
}

// TestKickoffSingleActiveScan implements spec invariant 8.8: while a scan
// exists for (project, branch) with the kickoff tag in
// {Running,Queued,Completed}, every kickoff request for that tuple
// returns SCAN_EXISTS.
func TestKickoffSingleActiveScan(t *testing.T) {
	for _, status := range []scanner.ScanStatus{scanner.StatusRunning, scanner.StatusQueued, scanner.StatusCompleted} {
		client := fakeScannerClient{scans: []scanner.Scan{{ID: "s1", ProjectID: "p1", Branch: "main", Status: status}}}
		svc := New(client, nil, 3, "gh-main", nil)
		res, err := svc.Start(context.Background(), "p1", "org/repo", Request{Branch: "main"}, noopExec)
		require.NoError(t, err)
		assert.Equal(t, OutcomeScanExists, res.Outcome, "status %s should block a new kickoff", status)
	}
}

// TestKickoffOverConcurrencyCap implements spec scenario S4: cap=2, two
// kickoff scans (one Running, one Queued) already exist on other branches,
// a third request is rejected with
// TOO_MANY_SCANS and no new scan starts.
func TestKickoffOverConcurrencyCap(t *testing.T) {
	client := fakeScannerClient{scans: []scanner.Scan{
		{ID: "s1", ProjectID: "p1", Branch: "feature-a", Status: scanner.StatusRunning},
		{ID: "s2", ProjectID: "p1", Branch: "feature-b", Status: scanner.StatusQueued},
	}}
	svc := New(client, nil, 2, "gh-main", nil)
	res, err := svc.Start(context.Background(), "p1", "org/repo", Request{Branch: "feature-c"}, noopExec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTooManyScans, res.Outcome)
	assert.Len(t, res.RunningScans, 2)
	assert.Nil(t, res.StartedScan)
}

func TestKickoffStartsWhenUnderCap(t *testing.T) {
	client := fakeScannerClient{}
	svc := New(client, nil, 3, "gh-main", nil)
	res, err := svc.Start(context.Background(), "p1", "org/repo", Request{Branch: "main", CommitHash: "abc"}, noopExec)
	require.NoError(t, err)
	require.Equal(t, OutcomeStarted, res.Outcome)
	require.NotNil(t, res.StartedScan)
	assert.Equal(t, "new-scan", res.StartedScan.ScanID)
}

func TestKickoffDefaultsMaxConcurrentScans(t *testing.T) {
	svc := New(fakeScannerClient{}, nil, 0, "m", nil)
	assert.Equal(t, 3, svc.MaxConcurrentScans)
}
