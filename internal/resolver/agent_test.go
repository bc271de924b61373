package resolver

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/cxoneflow/cxoneflow-go/internal/cloner"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentProcessRejectsInvalidSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	signer, err := crypto.NewDetailSigner(priv)
	require.NoError(t, err)

	details := envelope.DelegatedScanDetails{CloneURL: "https://example.com/repo.git"}
	binary, err := details.Binary()
	require.NoError(t, err)
	sig, err := signer.Sign(binary)
	require.NoError(t, err)

	agent := &Agent{Tag: "npm-legacy", PublicKey: otherPub}
	msg := envelope.DelegatedScanMessage{Details: details, DetailsSignature: sig}

	handoffCalled := false
	_, published, procErr := agent.Process(context.Background(), msg, func(ctx context.Context, h model.HandoffConfig) (cloner.Credentials, error) {
		handoffCalled = true
		return cloner.Credentials{}, nil
	})
	assert.Error(t, procErr)
	assert.False(t, published, "no result should be published on signature failure")
	assert.False(t, handoffCalled, "handoff should not be invoked when signature verification fails")
}

func TestAgentFailureResultCarriesHardFailureWhenNoScanID(t *testing.T) {
	agent := &Agent{}
	msg := envelope.DelegatedScanMessage{
		Header: envelope.Header{Moniker: "svc", Workflow: envelope.WorkflowPush, CorrelationID: "corr-1"},
	}
	result := agent.failureResult(msg, nil, nil)
	assert.True(t, result.IsHardFailure())
	assert.Equal(t, "corr-1", result.CorrelationID)
}

func TestAgentFailureResultCarriesExitCodeAndLogs(t *testing.T) {
	agent := &Agent{}
	msg := envelope.DelegatedScanMessage{
		Header: envelope.Header{Moniker: "svc", Workflow: envelope.WorkflowPush, CorrelationID: "corr-2"},
	}
	exitCode := 7
	result := agent.failureResult(msg, &exitCode, []byte("boom"))
	assert.Equal(t, envelope.StateFailure, result.State)
	assert.Equal(t, 7, *result.ResolverExitCode)
	assert.Equal(t, []byte("boom"), result.Logs)
	assert.True(t, result.IsHardFailure(), "failureResult never attaches a scan_id")
}
