package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errNoProject = errors.New("gcp project id is required")
	errNoTopic   = errors.New("pubsub escrow topic is required")
	errNoClient  = errors.New("pubsub client not initialized")
)

// Client publishes escrow lifecycle events. The escrow topic must exist
// before the outbox publisher starts unless CreateTopic is set.
type Client struct {
	ps      *pubsub.Client
	project string
	escrow  string
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errNoProject
	}
	if strings.TrimSpace(cfg.EscrowTopic) == "" {
		return nil, errNoTopic
	}

	ps, err := pubsub.NewClient(ctx, project, credentials(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{ps: ps, project: project, escrow: cfg.EscrowTopic}

	created, err := c.ensureTopic(ctx, cfg.EscrowTopic, cfg.CreateTopic)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		fields := map[string]any{"topic": c.resourceName(cfg.EscrowTopic), "topic_created": created}
		logg.Info(logg.WithFields(ctx, fields), "pubsub ready")
	}
	return c, nil
}

// credentials picks inline JSON over a file path. With neither set the
// library falls back to ADC or PUBSUB_EMULATOR_HOST.
func credentials(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) ensureTopic(ctx context.Context, name string, create bool) (bool, error) {
	topic := c.resourceName(name)
	if topic == "" {
		return false, errNoTopic
	}
	admin := c.ps.TopicAdminClient
	_, err := admin.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
	switch {
	case err == nil:
		return false, nil
	case status.Code(err) != codes.NotFound:
		return false, fmt.Errorf("get topic %s: %w", topic, err)
	case !create:
		return false, fmt.Errorf("topic %s does not exist", topic)
	}

	_, err = admin.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return false, fmt.Errorf("create topic %s: %w", topic, err)
	}
	return true, nil
}

// Publisher accepts a short topic id or a full projects/.../topics/... name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	topic := c.resourceName(name)
	if topic == "" {
		return nil
	}
	return c.ps.Publisher(topic)
}

// Ping checks the escrow topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNoClient
	}
	_, err := c.ensureTopic(ctx, c.escrow, false)
	return err
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

func (c *Client) resourceName(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case c == nil || c.project == "":
		return ""
	}
	return "projects/" + c.project + "/topics/" + name
}
