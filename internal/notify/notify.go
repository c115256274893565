package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Headers carrying the session identity next to the ntfy fields, so
// subscribers can filter or correlate without parsing the body.
const (
	HeaderSpace      = "X-Telepresence-Space"
	HeaderStream     = "X-Telepresence-Stream"
	HeaderGeneration = "X-Telepresence-Generation"
	HeaderState      = "X-Telepresence-State"
)

// Notifier is the interface for sending sharing notifications.
type Notifier interface {
	SendStarted(ctx context.Context, r Report) error
	SendFailure(ctx context.Context, r Report) error
}

// Client posts session reports to an ntfy topic.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// notification is one ntfy message derived from a Report.
type notification struct {
	report   Report
	title    string
	body     string
	tags     []string
	priority string
}

// NewClient creates an ntfy client for cfg.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendStarted reports that a participant began sharing.
func (c *Client) SendStarted(ctx context.Context, r Report) error {
	return c.send(ctx, notification{
		report:   r,
		title:    "Sharing started: " + r.Participant,
		body:     FormatStartedMessage(r),
		tags:     []string{"arrow_forward"},
		priority: c.config.Priority,
	})
}

// SendFailure reports a failed session. Failures always go out at high
// priority.
func (c *Client) SendFailure(ctx context.Context, r Report) error {
	return c.send(ctx, notification{
		report:   r,
		title:    "Sharing failed: " + r.Participant,
		body:     FormatFailureMessage(r),
		tags:     []string{"x"},
		priority: "high",
	})
}

func (c *Client) topicURL() string {
	return strings.TrimSuffix(c.config.Server, "/") + "/" + c.config.Topic
}

func (c *Client) request(ctx context.Context, n notification) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL(), strings.NewReader(n.body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tags := n.tags
	if c.config.Tags != "" {
		tags = append([]string{c.config.Tags}, tags...)
	}
	req.Header.Set("Title", n.title)
	req.Header.Set("Priority", n.priority)
	req.Header.Set("Tags", strings.Join(tags, ","))
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	status := n.report.Status
	req.Header.Set(HeaderSpace, n.report.SpaceID)
	req.Header.Set(HeaderState, status.State.String())
	req.Header.Set(HeaderGeneration, strconv.FormatUint(status.Generation, 10))
	if status.StreamID != "" {
		req.Header.Set(HeaderStream, status.StreamID)
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, n notification) error {
	if !c.config.Enabled {
		return nil
	}

	req, err := c.request(ctx, n)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification for space %s rejected with status %d", n.report.SpaceID, resp.StatusCode)
	}

	c.logger.Debug("notification sent",
		zap.String("title", n.title),
		zap.String("space_id", n.report.SpaceID),
		zap.Uint64("generation", n.report.Status.Generation),
	)
	return nil
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendStarted(_ context.Context, _ Report) error { return nil }

func (n *NoopNotifier) SendFailure(_ context.Context, _ Report) error { return nil }

// New returns a Client when cfg is enabled and a NoopNotifier otherwise.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
