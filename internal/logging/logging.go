// Package logging builds field-scoped *logrus.Entry loggers carrying the
// moniker/correlation_id/workflow fields every component attaches to its
// operational logs (SPEC_FULL.md Ambient Stack: logging), the same
// WithFields-wrapping shape as estuary-flow's ops.NewLoggerWithFields
// (go/flow/ops/logger.go), adapted from a forwarding Logger interface to a
// direct *logrus.Entry builder since this system has no forwarded-log-event
// concept to preserve.
package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Redactor strips known secret values from a string before it is allowed to
// reach a log sink (spec invariant 8.10: "no registered secret appears
// verbatim in any log record"). It is the one process-wide mutable state
// this package owns besides the base logger, guarded by a single mutex per
// spec §5's shared-resource policy.
type Redactor struct {
	mu      sync.RWMutex
	secrets map[string]struct{}
}

var registry = &Redactor{secrets: make(map[string]struct{})}

// Register adds secret to the redaction set. Call this as soon as a secret
// is resolved (webhook shared secrets, AMQP passwords, private keys) and
// before it is used anywhere that might log it.
func Register(secret string) {
	if secret == "" {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.secrets[secret] = struct{}{}
}

// Redact replaces every registered secret substring in s with "***".
func Redact(s string) string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for secret := range registry.secrets {
		s = replaceAll(s, secret, "***")
	}
	return s
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	out := ""
	for {
		i := indexOf(s, old)
		if i < 0 {
			return out + s
		}
		out += s[:i] + new
		s = s[i+len(old):]
	}
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// redactionHook runs Redact over every string-valued field and the message
// itself before formatting, so a registered secret never reaches stdout.
type redactionHook struct{}

func (redactionHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = Redact(entry.Message)
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			entry.Data[k] = Redact(s)
		}
	}
	return nil
}

// New builds the process base logger: JSON formatting, the redaction hook
// installed, and the level parsed from levelName (falling back to Info).
func New(levelName string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.AddHook(redactionHook{})
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// WithWorkflow returns an entry pre-populated with the moniker/workflow/
// correlation_id fields every component-level log line carries, mirroring
// estuary-flow's NewLoggerWithFields field-prepopulation shape.
func WithWorkflow(base *logrus.Logger, moniker, workflow, correlationID string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"moniker":        moniker,
		"workflow":       workflow,
		"correlation_id": correlationID,
	})
}
