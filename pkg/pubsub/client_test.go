package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/tenant-billing/pkg/config"
)

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/billing", resourceName("p1", "topics", " billing "))
	assert.Equal(t, "projects/other/topics/x", resourceName("p1", "topics", "projects/other/topics/x"))
	assert.Equal(t, "", resourceName("p1", "topics", ""))
	assert.Equal(t, "", resourceName("", "topics", "billing"))
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	assert.Equal(t, []string{"billing"}, topicNames(config.PubSubConfig{BillingTopic: "billing", BillingDLQTopic: " "}))
	assert.Equal(t, []string{"billing", "billing-dlq"}, topicNames(config.PubSubConfig{BillingTopic: "billing", BillingDLQTopic: "billing-dlq"}))
}

func TestSubscriberNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Subscriber("billing-analytics"))
	assert.Equal(t, "projects/p1/subscriptions/billing-analytics", resourceName("p1", "subscriptions", "billing-analytics"))
}
