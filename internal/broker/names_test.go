package broker

import "testing"

func TestRoutingKeyGrammar(t *testing.T) {
	got := RoutingKey("pr", "FEEDBACK", "PR", "svc-a")
	want := "cxoneflow.pr.FEEDBACK.PR.svc-a"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolverTopicAndQueueName(t *testing.T) {
	if got := ResolverTopic("npm-legacy"); got != "cxoneflow.delegated.npm-legacy" {
		t.Fatalf("unexpected topic: %q", got)
	}
	if got := ResolverQueueName("npm-legacy"); got == "" {
		t.Fatalf("expected non-empty queue name")
	}
}
