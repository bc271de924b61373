package app

import (
	"context"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/polling"
	"github.com/cxoneflow/cxoneflow-go/internal/resolver"
)

// RunPollConsumer drives the Scan Polling State Machine (spec 4.G) off the
// broker: it consumes every AWAIT message the scan-await exchange's TTL
// dead-lettered into the polling queue, decodes it, and hands it to
// a.Poller.Tick. Every delivery is acked regardless of Tick's error —
// spec §7: "any scanner API error ends polling for that scan (ack to
// prevent redelivery storm)" — the only unacked path is a genuinely
// undecodable message, which is dropped outright (it can never become
// decodable by redelivery).
func (a *App) RunPollConsumer(ctx context.Context, queue string) error {
	deliveries, err := a.Broker.Consume(ctx, queue, "cxoneflow-poll")
	if err != nil {
		return err
	}
	for d := range deliveries {
		_, msg, err := envelope.Decode[envelope.ScanAwaitMessage](d.Body, envelope.TypeScanAwait)
		if err != nil {
			a.Log.WithError(err).Error("undecodable scan-await message, dropping")
			_ = d.Nack(false, false)
			continue
		}
		currentTTL, ok := broker.OriginalExpiration(d.Headers)
		if !ok {
			currentTTL = polling.DefaultInitialInterval
		}
		if err := a.Poller.Tick(ctx, msg, currentTTL, time.Now()); err != nil {
			a.Log.WithError(err).WithField("scan_id", msg.ScanID).Error("poll tick failed")
		}
		_ = d.Ack(false)
	}
	return nil
}

// RunResolverResultConsumer implements spec 4.F's "Result path (issuer)":
// consume the resolver-complete queue, verify each result's signature
// against the issuing route's own public key, and re-enter that route's
// orchestrator with the outcome (hard failure surfaced directly, soft
// failure or success handed to the polling pipeline).
func (a *App) RunResolverResultConsumer(ctx context.Context) error {
	deliveries, err := a.Broker.Consume(ctx, broker.QueueResolverComplete, "cxoneflow-resolver-result")
	if err != nil {
		return err
	}
	for d := range deliveries {
		a.handleResolverResultDelivery(ctx, d.Body, "")
		_ = d.Ack(false)
	}
	return nil
}

// RunResolverTimeoutConsumer implements spec 4.F's "Per-tag queue
// semantics": a message that outlives its TTL dead-letters, unchanged,
// onto the shared resolver-timeout queue. The original routing key
// (cxoneflow.delegated.<tag>) survives dead-lettering, so the tag is
// recovered from the delivery rather than the message body.
func (a *App) RunResolverTimeoutConsumer(ctx context.Context) error {
	deliveries, err := a.Broker.Consume(ctx, broker.QueueResolverTimeout, "cxoneflow-resolver-timeout")
	if err != nil {
		return err
	}
	for d := range deliveries {
		tag := tagFromRoutingKey(d.RoutingKey)
		_, msg, err := envelope.Decode[envelope.DelegatedScanMessage](d.Body, envelope.TypeDelegatedScan)
		if err != nil {
			a.Log.WithError(err).Error("undecodable timed-out delegated scan message, dropping")
			_ = d.Ack(false)
			continue
		}

		if a.resubmitTimedOutScan(ctx, tag, msg, d) {
			_ = d.Ack(false)
			continue
		}

		result := resolver.HandleTimeout(tag, msg.Details, msg.DetailsSignature, msg.Header.Moniker, msg.Header.Workflow, msg.Header.CorrelationID)
		body, err := envelope.Encode(result.Header, result)
		if err != nil {
			a.Log.WithError(err).Error("failed to encode timeout result")
			_ = d.Ack(false)
			continue
		}
		a.handleResolverResultDelivery(ctx, body, tag)
		_ = d.Ack(false)
	}
	return nil
}

// resubmitTimedOutScan implements spec 4.F supplement #2's resubmit cap,
// grounded on original_source/workflows/resolver_workflow_base.py's
// delegated_scan_resubmit/get_delegated_scan_resubmit_count contract: a
// timed-out delegated scan is republished to its own per-tag queue, rather
// than declared a terminal failure, as long as the x-death count for that
// queue is still under the route's configured MaxResubmitCount. Returns
// true when it resubmitted, so the caller skips emitting a FAILURE result.
func (a *App) resubmitTimedOutScan(ctx context.Context, tag string, msg envelope.DelegatedScanMessage, d amqp.Delivery) bool {
	route, ok := a.Routes[msg.Header.Moniker]
	if !ok {
		return false
	}
	maxResubmits := route.Config.ScanAgent.MaxResubmitCount
	if maxResubmits <= 0 {
		return false
	}

	count := broker.ResubmitCount(d.Headers, broker.ResolverQueueName(tag))
	if resolver.ResubmitExceeded(count, maxResubmits) {
		a.Log.WithField("tag", tag).WithField("resubmit_count", count).
			Warn("delegated scan exceeded max resubmit count, failing")
		return false
	}

	body, err := envelope.Encode(msg.Header, msg)
	if err != nil {
		a.Log.WithError(err).Error("failed to re-encode delegated scan message for resubmit")
		return false
	}
	timeout := time.Duration(route.Config.ScanAgent.ScanTimeoutSeconds) * time.Second
	if err := a.Broker.Publish(ctx, broker.ExchangeDelegatedScan, broker.ResolverTopic(tag), body, broker.PublishOpts{
		Expiration: timeout,
		Persistent: true,
	}); err != nil {
		a.Log.WithError(err).WithField("tag", tag).Error("failed to resubmit delegated scan, failing instead")
		return false
	}
	metrics.ResolverResubmits.WithLabelValues(tag).Inc()
	a.Log.WithField("tag", tag).WithField("resubmit_count", count+1).Info("delegated scan resubmitted after timeout")
	return true
}

func tagFromRoutingKey(routingKey string) string {
	i := strings.LastIndex(routingKey, ".")
	if i < 0 {
		return routingKey
	}
	return routingKey[i+1:]
}

func (a *App) handleResolverResultDelivery(ctx context.Context, body []byte, fallbackTag string) {
	_, msg, err := envelope.Decode[envelope.DelegatedScanResultMessage](body, envelope.TypeDelegatedScanResult)
	if err != nil {
		a.Log.WithError(err).Error("undecodable delegated-scan result message, dropping")
		return
	}

	route, ok := a.Routes[msg.Header.Moniker]
	if !ok || route.Deps.Issuer == nil {
		a.Log.WithField("moniker", msg.Header.Moniker).WithField("tag", fallbackTag).
			Error("delegated-scan result for unknown/unissuing route, dropping")
		return
	}

	if err := route.Deps.Issuer.VerifyOwnSignature(msg); err != nil {
		a.Log.WithError(err).WithField("moniker", msg.Header.Moniker).
			Warn("delegated-scan result signature invalid, dropping")
		return
	}

	var handlers []polling.FeedbackHandler
	if route.PR != nil {
		handlers = append(handlers, route.PR)
	}
	if route.Push != nil {
		handlers = append(handlers, route.Push)
	}

	if err := route.Orch.HandleDelegatedResult(ctx, msg, route.Deps, handlers); err != nil {
		a.Log.WithError(err).WithField("moniker", msg.Header.Moniker).Error("failed to handle delegated-scan result")
	}
}
