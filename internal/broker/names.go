// Package broker declares the AMQP topology (exchanges, queues, bindings)
// and wraps github.com/rabbitmq/amqp091-go for publish/consume (spec
// component 4.C). Bootstrap is idempotent and process-wide: it runs once
// and its result is the only process-global broker state this system
// carries (spec §5, §9).
package broker

import "fmt"

// Element prefix/topic prefix match the routing-key grammar in spec §4.C:
// cxoneflow.<scope>.<state>.<workflow>.<moniker>
const (
	elementPrefix = "cxoneflow "
	topicPrefix   = "cxoneflow."
)

// Exchange/queue names. "Legacy" variants exist purely so a consumer bound
// to the pre-rename topology keeps receiving traffic during a rolling
// upgrade (folded in from original_source/rabbit_config.py's
// *_LEGACY constants — see SPEC_FULL.md "Supplemented features" #1).
const (
	ExchangeScanInput       = elementPrefix + "Scan Input"
	ExchangeScanInputLegacy = elementPrefix + "Scan In"

	ExchangeScanAwait       = elementPrefix + "Scan Await"
	ExchangeScanAwaitLegacy = elementPrefix + "Scan Wait"

	ExchangeScanPolling       = elementPrefix + "Scan Polling"
	ExchangeScanPollingLegacy = elementPrefix + "Scan Polling Legacy"

	ExchangeScanAnnotatePR = elementPrefix + "Scan Annotate PR"
	ExchangeScanFeedbackPR = elementPrefix + "Scan Feedback PR"
	ExchangeSARIFWork      = elementPrefix + "SARIF Work"

	ExchangeDelegatedScan    = elementPrefix + "Delegated Scan"
	ExchangeDelegatedScanDLX = elementPrefix + "Delegated Scan DLX"

	QueueScanWait       = elementPrefix + "Awaited Scans"
	QueueScanWaitLegacy = elementPrefix + "Awaited Scans Legacy"

	QueuePollingScans       = elementPrefix + "Polling Scans"
	QueuePollingScansLegacy = elementPrefix + "Polling Scans Legacy"

	QueueFeedbackPR  = elementPrefix + "Feedback PR"
	QueueAnnotatePR  = elementPrefix + "Annotate PR"
	QueuePushSARIFGen = elementPrefix + "Push SARIF Gen"

	QueueResolverTimeout  = elementPrefix + "Resolver Timeout"
	QueueResolverComplete = elementPrefix + "Resolver Complete"
)

// RoutingKey builds a cxoneflow.<scope>.<state>.<workflow>.<moniker> key.
func RoutingKey(scope string, state, workflow, moniker string) string {
	return fmt.Sprintf("%s%s.%s.%s.%s", topicPrefix, scope, state, workflow, moniker)
}

// PollBindingKey is the wildcard binding the polling queues use: any
// scope, state=AWAIT, any workflow, any moniker.
const PollBindingKey = topicPrefix + "*.AWAIT.*.*"

// FeedbackBindingKey binds the PR feedback queue across all states/workflows
// for a given scope.
func FeedbackBindingKey(scope string) string {
	return fmt.Sprintf("%s%s.*.*.*", topicPrefix, scope)
}

// ResolverQueueName names the per-tag resolver queue, one per pool of
// remote agents subscribed to that tag.
func ResolverQueueName(tag string) string {
	return fmt.Sprintf("%sResolver [%s]", elementPrefix, tag)
}

// ResolverTopic is the topic a tagged resolver pool's queue binds to, and
// the routing key the issuer publishes delegated scans with.
func ResolverTopic(tag string) string {
	return fmt.Sprintf("%sdelegated.%s", topicPrefix, tag)
}

// ResolverResultRoutingKey is used by an agent publishing its result back
// to the issuer's resolver-complete queue.
func ResolverResultRoutingKey(tag string) string {
	return fmt.Sprintf("%sresult.%s", topicPrefix, tag)
}
