// Package polling implements the Scan Polling State Machine (spec 4.G):
// AWAIT -> POLL -> (FEEDBACK | FEEDBACK_ERROR) via a delay-queue loop with
// exponential backoff.
package polling

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// Defaults per spec 4.G.
const (
	DefaultInitialInterval = 60 * time.Second
	DefaultBackoffScalar   = 2
	DefaultMaxInterval     = 600 * time.Second
	DefaultCumulativeDrop  = 48 * time.Hour
)

// FeedbackHandler is one of the "registered feedback services" fanned out
// to on terminal success/failure (spec 4.G: "dispatch to every registered
// feedback service").
type FeedbackHandler interface {
	OnSuccess(ctx context.Context, projectID, scanID string, details []byte) error
	OnFailure(ctx context.Context, projectID, scanID string, details []byte, errMsg string) error
}

// NextInterval computes the next AWAIT TTL: min(prevTTL * scalar,
// maxInterval) (spec 4.G, invariant 8.6: "non-decreasing sequence bounded
// by max_interval").
func NextInterval(prevTTL time.Duration, scalar float64, maxInterval time.Duration) time.Duration {
	next := time.Duration(float64(prevTTL) * scalar)
	if next > maxInterval {
		next = maxInterval
	}
	if next < prevTTL {
		next = prevTTL
	}
	return next
}

// Poller drives one polling consumer loop: load scan status, decide
// whether to republish an AWAIT message with a backed-off TTL, drop on
// expiry, or dispatch feedback.
type Poller struct {
	scannerClient scanner.Client
	client        *broker.Client
	handlers      []FeedbackHandler
	scalar        float64
	maxInterval   time.Duration
	log           *logrus.Entry
}

func New(scannerClient scanner.Client, client *broker.Client, handlers []FeedbackHandler, scalar float64, maxInterval time.Duration, log *logrus.Entry) *Poller {
	if scalar <= 0 {
		scalar = DefaultBackoffScalar
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{scannerClient: scannerClient, client: client, handlers: handlers, scalar: scalar, maxInterval: maxInterval, log: log}
}

// Tick processes one dead-lettered AWAIT message, implementing spec 4.G's
// decision tree. currentTTL is the TTL the message most recently carried
// (read from the broker's x-death original-expiration, spec §4.C/§5).
func (p *Poller) Tick(ctx context.Context, msg envelope.ScanAwaitMessage, currentTTL time.Duration, now time.Time) error {
	log := p.log.WithFields(logrus.Fields{"project_id": msg.ProjectID, "scan_id": msg.ScanID})

	if msg.IsExpired(now) {
		log.Warn("scan polling deadline passed, dropping")
		return nil
	}

	status, err := p.scannerClient.GetScanStatus(ctx, msg.ScanID)
	if err != nil {
		// Any scanner API error ends polling for that scan (spec §7:
		// "ack to prevent redelivery storm") — the error is logged here and
		// Tick returns nil, so nothing is republished.
		log.WithError(err).Error("scanner api error, ending polling for this scan")
		return nil
	}

	if !status.Terminal() {
		nextTTL := NextInterval(currentTTL, p.scalar, p.maxInterval)
		metrics.PollBackoffSeconds.WithLabelValues("poll").Observe(nextTTL.Seconds())
		return p.republish(ctx, msg, nextTTL)
	}

	if status.Success() {
		return p.dispatchSuccess(ctx, msg)
	}
	return p.dispatchFailure(ctx, msg, fmt.Sprintf("scan %s terminated with status %s", msg.ScanID, status))
}

func (p *Poller) republish(ctx context.Context, msg envelope.ScanAwaitMessage, ttl time.Duration) error {
	body, err := envelope.Encode(msg.Header, msg)
	if err != nil {
		return fmt.Errorf("polling: encode await message: %w", err)
	}
	routingKey := broker.RoutingKey("poll", string(envelope.StateAwait), string(msg.Workflow), msg.Moniker)
	return p.client.Publish(ctx, broker.ExchangeScanAwait, routingKey, body, broker.PublishOpts{
		Expiration: ttl,
		Persistent: true,
	})
}

func (p *Poller) dispatchSuccess(ctx context.Context, msg envelope.ScanAwaitMessage) error {
	for _, h := range p.handlers {
		if err := h.OnSuccess(ctx, msg.ProjectID, msg.ScanID, msg.WorkflowDetails); err != nil {
			p.log.WithError(err).Error("feedback handler failed on success dispatch")
		}
	}
	return nil
}

func (p *Poller) dispatchFailure(ctx context.Context, msg envelope.ScanAwaitMessage, reason string) error {
	for _, h := range p.handlers {
		if err := h.OnFailure(ctx, msg.ProjectID, msg.ScanID, msg.WorkflowDetails, reason); err != nil {
			p.log.WithError(err).Error("feedback handler failed on failure dispatch")
		}
	}
	return nil
}

// NewAwait builds the initial AWAIT message for a freshly submitted scan,
// with a cumulative drop_by deadline (spec §5: default 48h).
func NewAwait(header envelope.Header, projectID, scanID string, workflowDetails []byte, now time.Time, cumulativeDrop time.Duration) envelope.ScanAwaitMessage {
	header.State = envelope.StateAwait
	if cumulativeDrop <= 0 {
		cumulativeDrop = DefaultCumulativeDrop
	}
	return envelope.ScanAwaitMessage{
		Header:          header,
		ProjectID:       projectID,
		ScanID:          scanID,
		WorkflowDetails: workflowDetails,
		DropByTimestamp: now.Add(cumulativeDrop),
	}
}
