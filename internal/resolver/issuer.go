// Package resolver implements the Delegated Resolver Protocol (spec 4.F):
// the issuer side that routes a signed scan request to a tagged remote
// agent, and the agent-side runners (shell, container, two-stage, no-op)
// that execute the configured resolver tool and report back.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
)

// Issuer publishes delegated-scan requests and verifies results on their
// way back in. One Issuer instance is shared process-wide; its private
// key signs every request this process originates.
type Issuer struct {
	client  *broker.Client
	signer  crypto.DetailSigner
	verify  *crypto.CompositeVerifier
	pubKey  any
	log     *logrus.Entry
}

func NewIssuer(client *broker.Client, signer crypto.DetailSigner, ownPublicKey any, log *logrus.Entry) *Issuer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Issuer{
		client: client,
		signer: signer,
		verify: crypto.NewCompositeVerifier(),
		pubKey: ownPublicKey,
		log:    log,
	}
}

// Request builds, signs, and publishes a DelegatedScanMessage to the
// per-tag topic (spec 4.F "Issue path"). scanTimeout sets the per-message
// TTL that drives the dead-letter-to-timeout path on non-response.
func (i *Issuer) Request(
	ctx context.Context,
	tag string,
	details envelope.DelegatedScanDetails,
	moniker string,
	workflow envelope.Workflow,
	captureLogs bool,
	scanTimeout time.Duration,
) (correlationID string, err error) {
	binary, err := details.Binary()
	if err != nil {
		return "", fmt.Errorf("resolver: canonicalize details: %w", err)
	}
	sig, err := i.signer.Sign(binary)
	if err != nil {
		return "", fmt.Errorf("resolver: sign details: %w", err)
	}

	correlationID = uuid.NewString()
	header := envelope.Header{
		MessageType:   envelope.TypeDelegatedScan,
		SchemaVersion: envelope.SchemaVersion,
		Moniker:       moniker,
		Workflow:      workflow,
		State:         envelope.StateAwait,
		CorrelationID: correlationID,
	}
	msg := envelope.DelegatedScanMessage{
		Header:           header,
		Details:          details,
		DetailsSignature: sig,
		CaptureLogs:      captureLogs,
	}

	body, err := envelope.Encode(header, msg)
	if err != nil {
		return "", fmt.Errorf("resolver: encode delegated scan message: %w", err)
	}

	routingKey := broker.ResolverTopic(tag)
	if err := i.client.Publish(ctx, broker.ExchangeDelegatedScan, routingKey, body, broker.PublishOpts{
		Expiration: scanTimeout,
		Persistent: true,
	}); err != nil {
		return "", fmt.Errorf("resolver: publish delegated scan: %w", err)
	}

	i.log.WithFields(logrus.Fields{"tag": tag, "correlation_id": correlationID}).Info("delegated scan requested")
	return correlationID, nil
}

// VerifyOwnSignature checks that DetailsSignature on a returned result
// still verifies against this issuer's own public key (spec 4.F "Result
// path (issuer)": "verifies details_signature against the issuer's own
// public key"), confirming the agent is replying about this issuer's own
// workflow and not replaying/forging a message.
func (i *Issuer) VerifyOwnSignature(msg envelope.DelegatedScanResultMessage) error {
	binary, err := msg.Details.Binary()
	if err != nil {
		return fmt.Errorf("resolver: canonicalize details: %w", err)
	}
	return i.verify.Verify(binary, msg.DetailsSignature, i.pubKey)
}

// Outcome is the decision the issuer makes once a result message has been
// authenticated (spec 4.F "Result path").
type Outcome int

const (
	OutcomeHardFailure Outcome = iota
	OutcomeSoftFailureProceed
	OutcomeDispatchScan
)

// Classify maps a verified result message to the issuer's next action.
func Classify(msg envelope.DelegatedScanResultMessage) (Outcome, error) {
	if msg.IsHardFailure() {
		return OutcomeHardFailure, &errs.ResolverHardFailureError{Reason: "agent reported failure with no scan_id"}
	}
	if msg.IsSoftFailure() {
		return OutcomeSoftFailureProceed, &errs.ResolverSoftFailureError{
			ExitCode: derefInt(msg.ResolverExitCode),
			ScanID:   derefStr(msg.ScanID),
		}
	}
	return OutcomeDispatchScan, nil
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// HandleTimeout is invoked by the consumer watching the resolver-timeout
// queue (spec 4.F: "the issuer observes the timeout and emits a FAILURE
// result"). It builds the FAILURE result the rest of the pipeline treats
// identically to an agent-reported hard failure.
func HandleTimeout(tag string, details envelope.DelegatedScanDetails, detailsSig []byte, moniker string, workflow envelope.Workflow, correlationID string) envelope.DelegatedScanResultMessage {
	metrics.DelegatedScanTimeouts.WithLabelValues(tag).Inc()
	return envelope.DelegatedScanResultMessage{
		Header: envelope.Header{
			MessageType:   envelope.TypeDelegatedScanResult,
			SchemaVersion: envelope.SchemaVersion,
			Moniker:       moniker,
			Workflow:      workflow,
			State:         envelope.StateFailure,
			CorrelationID: correlationID,
		},
		Details:          details,
		DetailsSignature: detailsSig,
		ScanID:           nil,
	}
}

// ResubmitExceeded reports whether count (the x-death death count that
// broker.ResubmitCount reads from spec §6's x-death table) shows the
// message has already been resubmitted maxResubmits times, the bound
// original_source's runner_agent.py-derived supplement #2 enforces.
func ResubmitExceeded(count int64, maxResubmits int) bool {
	return maxResubmits > 0 && count >= int64(maxResubmits)
}
