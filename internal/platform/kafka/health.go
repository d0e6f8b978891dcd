package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// SplitBrokers turns a comma separated broker list into seeds.
func SplitBrokers(brokers string) []string {
	var out []string
	for b := range strings.SplitSeq(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Admin wraps kadm for readiness checks and topic provisioning.
type Admin struct {
	client *kgo.Client
	admin  *kadm.Client
}

func NewAdmin(brokers string) (*Admin, error) {
	seeds := SplitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(seeds...))
	if err != nil {
		return nil, fmt.Errorf("create kafka admin client: %w", err)
	}
	return &Admin{client: client, admin: kadm.NewClient(client)}, nil
}

// Check returns nil when at least one broker answers a metadata request.
func (a *Admin) Check(ctx context.Context) error {
	brokers, err := a.admin.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("list kafka brokers: %w", err)
	}
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers reachable")
	}
	return nil
}

// EnsureTopics creates any missing topics with the given partition count.
// Topics that already exist are left untouched.
func (a *Admin) EnsureTopics(ctx context.Context, partitions int32, topics ...string) error {
	resp, err := a.admin.CreateTopics(ctx, partitions, -1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !strings.Contains(t.Err.Error(), "TOPIC_ALREADY_EXISTS") {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

func (a *Admin) Close() {
	a.client.Close()
}
