package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
)

// Subscribe implements session.Session over a WebSocket to
// /api/subscribe. Each frame carries one message; frames are delivered
// to fn in arrival order on a single goroutine.
//
// The connection is re-established with exponential backoff after any
// failure, resubscribing with the same filter. The service replays
// recent matching messages on resubscribe, so duplicates are expected
// across reconnects; consumers deduplicate by message id.
func (c *Client) Subscribe(f message.Filter, fn session.MessageFunc) (func(), error) {
	wsURL, err := c.subscribeURL(f)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go c.subscribeLoop(ctx, wsURL, fn)
	return cancel, nil
}

func (c *Client) subscribeURL(f message.Filter) (string, error) {
	u, err := url.Parse(c.cfg.ServiceURL)
	if err != nil {
		return "", fmt.Errorf("parsing service url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported service url scheme %q", u.Scheme)
	}
	u.Path = "/api/subscribe"
	u.RawQuery = f.Query(message.FindOptions{}).Encode()
	return u.String(), nil
}

// subscribeLoop dials, reads frames until the connection breaks, then
// redials with backoff. It exits only when ctx is cancelled.
func (c *Client) subscribeLoop(ctx context.Context, wsURL string, fn session.MessageFunc) {
	backoff := c.cfg.InitialBackoff

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnf("subscription dial failed (%v), retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		c.logger.Debugf("subscription established")
		backoff = c.cfg.InitialBackoff

		// Close the connection when ctx is cancelled so the blocking
		// read below unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		c.readFrames(ctx, conn, fn)
		close(done)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warnf("subscription lost, reconnecting")
	}
}

func (c *Client) readFrames(ctx context.Context, conn *websocket.Conn, fn session.MessageFunc) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := message.Parse(data)
		if err != nil {
			c.logger.Warnf("dropping malformed frame: %v", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		fn(msg)
	}
}
