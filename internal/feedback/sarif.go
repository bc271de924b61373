package feedback

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// DeliveryAgent is one of the transports push-workflow SARIF delivery can
// use (spec 4.H: "deliver via one or more agents: AMQP publish or HTTP
// POST").
type DeliveryAgent interface {
	Deliver(ctx context.Context, headers map[string]string, body []byte) error
}

// AMQPDeliveryAgent publishes the signed, compressed SARIF body to a
// configured exchange/routing key on the SARIF-work exchange.
type AMQPDeliveryAgent struct {
	Client     *broker.Client
	Exchange   string
	RoutingKey string
}

func (a *AMQPDeliveryAgent) Deliver(ctx context.Context, headers map[string]string, body []byte) error {
	// The AMQP transport folds the HTTP-shaped headers into the envelope
	// itself so a downstream AMQP consumer sees the same signature/scan
	// metadata an HTTP receiver would see (spec §6 SARIF delivery headers).
	envelopeMsg := struct {
		Headers map[string]string `json:"headers"`
		Body    []byte            `json:"body"`
	}{Headers: headers, Body: body}
	encoded, err := envelope.Encode(envelope.Header{MessageType: "SARIF_DELIVERY", SchemaVersion: envelope.SchemaVersion}, envelopeMsg)
	if err != nil {
		return fmt.Errorf("feedback: encode sarif delivery: %w", err)
	}
	return a.Client.Publish(ctx, a.Exchange, a.RoutingKey, encoded, broker.PublishOpts{Persistent: true})
}

// HTTPDeliveryAgent POSTs the signed, compressed SARIF body with bounded
// retries and a linear delay between attempts (spec 4.H).
type HTTPDeliveryAgent struct {
	URL        string
	Client     *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

func (a *HTTPDeliveryAgent) Deliver(ctx context.Context, headers map[string]string, body []byte) error {
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := a.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := a.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("feedback: build sarif delivery request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("feedback: sarif delivery returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		if attempt < maxRetries {
			select {
			case <-time.After(delay * time.Duration(attempt+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("feedback: sarif delivery exhausted %d retries: %w", maxRetries, lastErr)
}

// PushWorkflow is the push-workflow SARIF delivery component (spec 4.H):
// generate a SARIF v2.1.0 log for the completed scan, gzip-compress, HMAC
// sign, and deliver to every configured DeliveryAgent.
type PushWorkflow struct {
	ScannerClient scanner.Client
	Agents        []DeliveryAgent
	Secret        []byte
	HMACAlg       crypto.HMACAlg
	Log           *logrus.Entry
}

func NewPushWorkflow(scannerClient scanner.Client, agents []DeliveryAgent, secret []byte, log *logrus.Entry) *PushWorkflow {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PushWorkflow{ScannerClient: scannerClient, Agents: agents, Secret: secret, HMACAlg: crypto.HMACSHA256, Log: log}
}

// OnSuccess fetches the SARIF log and delivers it to every agent.
func (w *PushWorkflow) OnSuccess(ctx context.Context, projectID, scanID string, details []byte) error {
	fc, err := envelope.DecodeFeedbackContext(details)
	if err != nil {
		return fmt.Errorf("feedback: push workflow: decode context: %w", err)
	}
	sarif, err := w.ScannerClient.FetchSARIF(ctx, scanID)
	if err != nil {
		return fmt.Errorf("feedback: fetch sarif: %w", err)
	}
	return w.deliver(ctx, projectID, scanID, fc, sarif, false, "")
}

// OnFailure delivers the error-path JSON envelope (spec 4.H: "Error path
// publishes a JSON {error: "..."} body with the same signing discipline").
func (w *PushWorkflow) OnFailure(ctx context.Context, projectID, scanID string, details []byte, errMsg string) error {
	fc, err := envelope.DecodeFeedbackContext(details)
	if err != nil {
		return fmt.Errorf("feedback: push workflow: decode context: %w", err)
	}
	body := []byte(fmt.Sprintf(`{"error":%q}`, errMsg))
	return w.deliver(ctx, projectID, scanID, fc, body, true, errMsg)
}

func (w *PushWorkflow) deliver(ctx context.Context, projectID, scanID string, fc envelope.FeedbackContext, payload []byte, isError bool, errMsg string) error {
	compressed, err := envelope.Gzip(payload)
	if err != nil {
		return fmt.Errorf("feedback: gzip sarif payload: %w", err)
	}
	sig, err := crypto.SignHMAC(w.Secret, compressed, w.HMACAlg)
	if err != nil {
		return fmt.Errorf("feedback: sign sarif payload: %w", err)
	}

	alg, digest := splitSig(sig)
	headers := map[string]string{
		"x-cx-signature-alg": alg,
		"x-cx-signature":     digest,
		"x-cx-scanid":        scanID,
		"x-cx-projectid":     projectID,
		"x-cx-service":       fc.Moniker,
		"x-cx-clone-url":     fc.CloneURL,
		"x-cx-branch":        fc.Branch,
		"x-cx-commit":        fc.CommitHash,
		"x-cx-is-error":      boolHeader(isError),
		"content-encoding":   "gzip",
		"content-type":       "application/json",
	}

	var lastErr error
	for _, agent := range w.Agents {
		if err := agent.Deliver(ctx, headers, compressed); err != nil {
			w.Log.WithError(err).WithField("scan_id", scanID).Error("sarif delivery agent failed")
			metrics.SARIFPushAttempts.WithLabelValues("failure").Inc()
			lastErr = err
			continue
		}
		metrics.SARIFPushAttempts.WithLabelValues("success").Inc()
	}
	return lastErr
}

func splitSig(sig string) (alg, digest string) {
	for i := 0; i < len(sig); i++ {
		if sig[i] == '=' {
			return sig[:i], sig[i+1:]
		}
	}
	return "", sig
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
