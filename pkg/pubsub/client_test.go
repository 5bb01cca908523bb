package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "orderflow-dev"}
	cases := map[string]string{
		"order-events":                       "projects/orderflow-dev/topics/order-events",
		"  order-events ":                    "projects/orderflow-dev/topics/order-events",
		"projects/other/topics/order-events": "projects/other/topics/order-events",
		"":                                   "",
	}
	for in, want := range cases {
		if got := c.topicResourceName(in); got != want {
			t.Fatalf("topicResourceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	if got := clientOptions(config.GCPConfig{}); len(got) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(got))
	}
	both := config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds.json"}
	if got := clientOptions(both); len(got) != 1 {
		t.Fatalf("expected a single option, got %d", len(got))
	}
	if got := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}); len(got) != 1 {
		t.Fatalf("expected file option, got %d", len(got))
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{OrdersTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errNoOrdersTopic {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("order-events") != nil {
		t.Fatalf("nil client should not hand out publishers")
	}
	if c.OrdersTopic() != "" {
		t.Fatalf("nil client has no topic")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error on nil client")
	}
}
