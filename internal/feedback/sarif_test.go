package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
)

type fakeDeliveryAgent struct {
	headers map[string]string
	body    []byte
	err     error
	calls   int
}

func (a *fakeDeliveryAgent) Deliver(ctx context.Context, headers map[string]string, body []byte) error {
	a.calls++
	a.headers = headers
	a.body = body
	return a.err
}

func TestPushWorkflowSignsAndDeliversSARIF(t *testing.T) {
	scannerClient := fakeScannerClient{}
	sarifAgent := &fakeDeliveryAgent{}
	secret := []byte("topsecret")
	w := NewPushWorkflow(pushScannerClient{fakeScannerClient: scannerClient, sarif: []byte(`{"version":"2.1.0"}`)}, []DeliveryAgent{sarifAgent}, secret, nil)

	fc := envelope.FeedbackContext{Moniker: "gh-main", CloneURL: "https://example/repo.git", Branch: "main", CommitHash: "abc123"}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	require.Equal(t, 1, sarifAgent.calls)
	assert.Equal(t, "sha256", sarifAgent.headers["x-cx-signature-alg"])
	assert.Equal(t, "gzip", sarifAgent.headers["content-encoding"])
	assert.Equal(t, "s1", sarifAgent.headers["x-cx-scanid"])
	assert.Equal(t, "false", sarifAgent.headers["x-cx-is-error"])

	_, err = envelope.Gunzip(sarifAgent.body)
	require.NoError(t, err)
	sig := sarifAgent.headers["x-cx-signature-alg"] + "=" + sarifAgent.headers["x-cx-signature"]
	assert.True(t, crypto.VerifyHMAC(sig, secret, sarifAgent.body))
}

func TestPushWorkflowOnFailureSendsErrorEnvelope(t *testing.T) {
	sarifAgent := &fakeDeliveryAgent{}
	w := NewPushWorkflow(pushScannerClient{}, []DeliveryAgent{sarifAgent}, []byte("s"), nil)

	fc := envelope.FeedbackContext{Moniker: "gh-main"}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnFailure(context.Background(), "p1", "s1", details, "scan failed"))
	assert.Equal(t, "true", sarifAgent.headers["x-cx-is-error"])
	gunzipped, err := envelope.Gunzip(sarifAgent.body)
	require.NoError(t, err)
	assert.Contains(t, string(gunzipped), "scan failed")
}

type pushScannerClient struct {
	fakeScannerClient
	sarif []byte
}

func (p pushScannerClient) FetchSARIF(ctx context.Context, scanID string) ([]byte, error) {
	return p.sarif, nil
}
