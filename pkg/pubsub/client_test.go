package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	c := &Client{project: "inspectbid-dev"}

	cases := map[string]string{
		"escrow-events":                       "projects/inspectbid-dev/topics/escrow-events",
		"  escrow-events  ":                   "projects/inspectbid-dev/topics/escrow-events",
		"projects/other/topics/escrow-events": "projects/other/topics/escrow-events",
		"":                                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, c.resourceName(in), "input %q", in)
	}

	var nilClient *Client
	assert.Equal(t, "projects/p/topics/t", nilClient.resourceName("projects/p/topics/t"))
	assert.Empty(t, nilClient.resourceName("t"))
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("escrow-events"))
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNoClient)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{EscrowTopic: "t"}, nil)
	assert.ErrorIs(t, err, errNoProject)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errNoTopic)
}

func TestCredentialsPreferInlineJSON(t *testing.T) {
	assert.Empty(t, credentials(config.GCPConfig{}))
	got := credentials(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds.json"})
	assert.Len(t, got, 1)
	assert.Len(t, credentials(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}), 1)
}
