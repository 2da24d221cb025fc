// Package client implements the messaging session boundary over HTTP
// and WebSocket: historical queries and sends go through the REST
// endpoints, live subscriptions over a WebSocket that reconnects with
// exponential backoff. All sends are routed through a dispatch.Queue so
// the whole process shares one ordered send pipeline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/dispatch"
	"github.com/nitrogen-io/nitrogen-go/pkg/log"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
)

// Config configures a Client.
type Config struct {
	// ServiceURL is the base URL of the messaging service, e.g.
	// "https://api.example.com".
	ServiceURL string

	// Token authenticates the session (sent as a bearer token).
	Token string

	// Principal is the identity this session operates as.
	Principal session.Principal

	// HTTPClient overrides the default HTTP client when non-nil.
	HTTPClient *http.Client

	// InitialBackoff and MaxBackoff bound the WebSocket reconnect
	// backoff. Zero values pick sensible defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client is a session.Session backed by a remote messaging service.
type Client struct {
	cfg    Config
	httpc  *http.Client
	queue  *dispatch.Queue
	logger *log.Logger
}

// messagesEnvelope is the wire envelope for both query results and send
// confirmations.
type messagesEnvelope struct {
	Messages []*message.Message `json:"messages"`
	Error    string             `json:"error,omitempty"`
}

// New returns a client for the given service. Call Close when done to
// stop the send queue.
func New(cfg Config) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		cfg:    cfg,
		httpc:  httpc,
		logger: log.ForComponent("client"),
	}
	c.queue = dispatch.NewQueue(c.postMessages)
	return c
}

// Close stops the send queue. Active subscriptions are stopped via their
// stop functions.
func (c *Client) Close() {
	c.queue.Stop()
}

// PrincipalID implements session.Session.
func (c *Client) PrincipalID() string {
	return c.cfg.Principal.ID
}

// FindMessages implements session.Session via GET /api/messages.
func (c *Client) FindMessages(ctx context.Context, f message.Filter, opts message.FindOptions) ([]*message.Message, error) {
	u, err := url.Parse(c.cfg.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("parsing service url: %w", err)
	}
	u.Path = "/api/messages"
	u.RawQuery = f.Query(opts).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching messages: %s", readServiceError(resp))
	}

	var env messagesEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return env.Messages, nil
}

// SendMessages implements session.Session: the batch is enqueued on the
// shared send queue and cb fires once it has been accepted or fatally
// rejected.
func (c *Client) SendMessages(ctx context.Context, msgs []*message.Message, cb session.SendCallback) {
	c.queue.Enqueue(msgs, cb)
}

// postMessages performs one send attempt. A 400 response marks the batch
// fatally rejected; every other failure is transient and retried by the
// queue.
func (c *Client) postMessages(ctx context.Context, msgs []*message.Message) ([]*message.Message, error) {
	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, dispatch.Fatal(fmt.Errorf("encoding messages: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return nil, dispatch.Fatal(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting messages: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		return nil, dispatch.Fatal(fmt.Errorf("service rejected batch: %s", readServiceError(resp)))
	default:
		return nil, fmt.Errorf("posting messages: %s", readServiceError(resp))
	}

	var env messagesEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding send confirmation: %w", err)
	}
	return env.Messages, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// readServiceError extracts a service error string from a non-200
// response, falling back to the HTTP status.
func readServiceError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var env messagesEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			return env.Error
		}
	}
	return resp.Status
}
