package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/urfave/cli/v3"
)

// SendCommand creates the send command
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send a message through the service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Usage:    "Message type, e.g. _switchOn",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Recipient principal id",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "Tag to attach. Can be used multiple times",
			},
			&cli.StringSliceFlag{
				Name:  "response-to",
				Usage: "Message id this message responds to. Can be used multiple times",
			},
			&cli.DurationFlag{
				Name:  "expires-in",
				Usage: "Expire the message this long after sending (0 for never)",
			},
			&cli.StringFlag{
				Name:  "body",
				Usage: "Message body as a JSON object",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return send(ctx, c)
		},
	}
}

func send(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	m := message.New(c.String("type"))
	m.To = c.String("to")
	m.Tags = c.StringSlice("tag")
	m.ResponseTo = c.StringSlice("response-to")

	if expiresIn := c.Duration("expires-in"); expiresIn > 0 {
		expires := time.Now().Add(expiresIn)
		m.Expires = &expires
	}

	if body := c.String("body"); body != "" {
		if err := json.Unmarshal([]byte(body), &m.Body); err != nil {
			return fmt.Errorf("parsing body: %w", err)
		}
	}

	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	done := make(chan error, 1)
	var sentIDs []string
	cl.SendMessages(ctx, []*message.Message{m}, func(sent []*message.Message, err error) {
		for _, s := range sent {
			sentIDs = append(sentIDs, s.ID)
		}
		done <- err
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}

	fmt.Printf("Sent %s (%s)\n", m.Type, strings.Join(sentIDs, ", "))
	return nil
}
