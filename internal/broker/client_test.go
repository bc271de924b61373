package broker

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestResubmitCountFromXDeath(t *testing.T) {
	headers := amqp.Table{
		"x-death": []amqp.Table{
			{"queue": "cxoneflow Resolver [npm-legacy]", "count": int64(3), "original-expiration": "60000"},
			{"queue": "cxoneflow Resolver Timeout", "count": int64(1)},
		},
	}

	if got := ResubmitCount(headers, "cxoneflow Resolver [npm-legacy]"); got != 3 {
		t.Fatalf("got %d want 3", got)
	}
	if got := ResubmitCount(headers, "unknown-queue"); got != 0 {
		t.Fatalf("got %d want 0 for unknown queue", got)
	}
}

func TestOriginalExpirationFromXDeath(t *testing.T) {
	headers := amqp.Table{
		"x-death": []amqp.Table{
			{"queue": "q1", "count": int64(1), "original-expiration": "120000"},
		},
	}

	dur, ok := OriginalExpiration(headers)
	if !ok {
		t.Fatalf("expected original-expiration to be present")
	}
	if dur != 120*time.Second {
		t.Fatalf("got %v want 120s", dur)
	}
}

func TestOriginalExpirationAbsent(t *testing.T) {
	if _, ok := OriginalExpiration(amqp.Table{}); ok {
		t.Fatalf("expected absent x-death to report ok=false")
	}
}
