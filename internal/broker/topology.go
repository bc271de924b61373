package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Topology is the bootstrap result: the single piece of process-global
// state this component owns (spec §5, §9). It is built once at process
// start and handed to every consumer/publisher that needs exchange names —
// callers never re-declare.
type Topology struct {
	ResolverTags []string
	log          *logrus.Entry
}

// quorumArgs returns the queue arguments shared by every durable quorum
// queue in this topology.
func quorumArgs(extra amqp.Table) amqp.Table {
	args := amqp.Table{"x-queue-type": "quorum"}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// Bootstrap declares every exchange, queue, and binding in spec §4.C,
// including the legacy aliases (SPEC_FULL.md supplement #1). It is
// idempotent: RabbitMQ's declare is itself idempotent for identical
// arguments, so calling Bootstrap repeatedly at process start across
// multiple replicas is safe.
func Bootstrap(ch *amqp.Channel, resolverTags []string, log *logrus.Entry) (*Topology, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Topology{ResolverTags: resolverTags, log: log}

	declareFanout := func(name string) error {
		return ch.ExchangeDeclare(name, amqp.ExchangeFanout, true, false, false, false, nil)
	}
	declareTopicInternal := func(name string) error {
		return ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, true, false, nil)
	}
	declareTopic := func(name string) error {
		return ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
	}

	for _, name := range []string{ExchangeScanInput, ExchangeScanInputLegacy} {
		if err := declareFanout(name); err != nil {
			return nil, fmt.Errorf("broker: declare fanout %q: %w", name, err)
		}
	}

	for _, name := range []string{
		ExchangeScanAwait, ExchangeScanAwaitLegacy,
		ExchangeScanPolling, ExchangeScanPollingLegacy,
		ExchangeScanAnnotatePR, ExchangeScanFeedbackPR, ExchangeSARIFWork,
		ExchangeDelegatedScanDLX,
	} {
		if err := declareTopicInternal(name); err != nil {
			return nil, fmt.Errorf("broker: declare internal topic %q: %w", name, err)
		}
	}

	if err := declareTopic(ExchangeDelegatedScan); err != nil {
		return nil, fmt.Errorf("broker: declare topic %q: %w", ExchangeDelegatedScan, err)
	}

	// Scan-in fans out to await, feedback, and annotate routing exchanges.
	binds := []struct{ dest, src string }{
		{ExchangeScanAwait, ExchangeScanInput},
		{ExchangeScanAwaitLegacy, ExchangeScanInputLegacy},
		{ExchangeScanFeedbackPR, ExchangeScanInput},
		{ExchangeScanFeedbackPR, ExchangeScanInputLegacy},
		{ExchangeScanAnnotatePR, ExchangeScanInput},
		{ExchangeScanAnnotatePR, ExchangeScanInputLegacy},
		{ExchangeSARIFWork, ExchangeScanInput},
	}
	for _, b := range binds {
		if err := ch.ExchangeBind(b.dest, "", b.src, false, nil); err != nil {
			return nil, fmt.Errorf("broker: bind exchange %q to %q: %w", b.dest, b.src, err)
		}
	}

	// Awaited scans: TTL holds the message until the current poll
	// interval expires, then DLX routes it to the polling exchange.
	if _, err := ch.QueueDeclare(QueueScanWait, true, false, false, false, quorumArgs(amqp.Table{
		"x-dead-letter-strategy":  "at-least-once",
		"x-overflow":              "reject-publish",
		"x-dead-letter-exchange":  ExchangeScanPolling,
	})); err != nil {
		return nil, fmt.Errorf("broker: declare queue %q: %w", QueueScanWait, err)
	}
	if err := ch.QueueBind(QueueScanWait, PollBindingKey, ExchangeScanAwait, false, nil); err != nil {
		return nil, fmt.Errorf("broker: bind queue %q: %w", QueueScanWait, err)
	}

	if _, err := ch.QueueDeclare(QueueScanWaitLegacy, true, false, false, false, quorumArgs(amqp.Table{
		"x-dead-letter-strategy": "at-least-once",
		"x-overflow":             "reject-publish",
		"x-dead-letter-exchange": ExchangeScanPollingLegacy,
	})); err != nil {
		return nil, fmt.Errorf("broker: declare queue %q: %w", QueueScanWaitLegacy, err)
	}
	if err := ch.QueueBind(QueueScanWaitLegacy, PollBindingKey, ExchangeScanAwaitLegacy, false, nil); err != nil {
		return nil, fmt.Errorf("broker: bind queue %q: %w", QueueScanWaitLegacy, err)
	}

	for _, q := range []struct{ queue, exchange string }{
		{QueuePollingScans, ExchangeScanPolling},
		{QueuePollingScansLegacy, ExchangeScanPollingLegacy},
	} {
		if _, err := ch.QueueDeclare(q.queue, true, false, false, false, quorumArgs(nil)); err != nil {
			return nil, fmt.Errorf("broker: declare queue %q: %w", q.queue, err)
		}
		if err := ch.QueueBind(q.queue, PollBindingKey, q.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("broker: bind queue %q: %w", q.queue, err)
		}
	}

	for _, q := range []struct {
		queue, exchange, key string
	}{
		{QueueFeedbackPR, ExchangeScanFeedbackPR, FeedbackBindingKey("pr")},
		{QueueAnnotatePR, ExchangeScanAnnotatePR, FeedbackBindingKey("pr")},
		{QueuePushSARIFGen, ExchangeSARIFWork, FeedbackBindingKey("push")},
	} {
		if _, err := ch.QueueDeclare(q.queue, true, false, false, false, quorumArgs(nil)); err != nil {
			return nil, fmt.Errorf("broker: declare queue %q: %w", q.queue, err)
		}
		if err := ch.QueueBind(q.queue, q.key, q.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("broker: bind queue %q: %w", q.queue, err)
		}
	}

	// Delegated resolver protocol: timeout queue plus one quorum queue per
	// configured tag, each dead-lettering to the shared DLX/timeout queue.
	if _, err := ch.QueueDeclare(QueueResolverTimeout, true, false, false, false, quorumArgs(nil)); err != nil {
		return nil, fmt.Errorf("broker: declare queue %q: %w", QueueResolverTimeout, err)
	}
	if err := ch.QueueBind(QueueResolverTimeout, topicPrefix+"delegated.#", ExchangeDelegatedScanDLX, false, nil); err != nil {
		return nil, fmt.Errorf("broker: bind queue %q: %w", QueueResolverTimeout, err)
	}

	for _, tag := range resolverTags {
		queue := ResolverQueueName(tag)
		if _, err := ch.QueueDeclare(queue, true, false, false, false, quorumArgs(amqp.Table{
			"x-dead-letter-strategy": "at-least-once",
			"x-overflow":             "reject-publish",
			"x-dead-letter-exchange": ExchangeDelegatedScanDLX,
		})); err != nil {
			return nil, fmt.Errorf("broker: declare resolver queue %q: %w", queue, err)
		}
		if err := ch.QueueBind(queue, ResolverTopic(tag), ExchangeDelegatedScan, false, nil); err != nil {
			return nil, fmt.Errorf("broker: bind resolver queue %q: %w", queue, err)
		}
		log.WithField("tag", tag).Info("bootstrapped resolver queue")
	}

	if _, err := ch.QueueDeclare(QueueResolverComplete, true, false, false, false, quorumArgs(nil)); err != nil {
		return nil, fmt.Errorf("broker: declare queue %q: %w", QueueResolverComplete, err)
	}
	if err := ch.QueueBind(QueueResolverComplete, topicPrefix+"result.#", ExchangeDelegatedScan, false, nil); err != nil {
		return nil, fmt.Errorf("broker: bind queue %q: %w", QueueResolverComplete, err)
	}

	log.Info("broker topology bootstrap complete")
	return t, nil
}
