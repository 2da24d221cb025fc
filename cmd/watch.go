package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/urfave/cli/v3"
)

// WatchCommand creates a CLI command that tails the live message stream
// and prints matching messages to stdout.
//
// Typical usage:
//
//	nitrogen watch
//	nitrogen watch --type _switchOn --to thermostat-12
//	nitrogen watch --raw | jq -r .type
//
// The underlying subscription auto-reconnects with exponential backoff
// when the connection drops, so the command never exits on its own.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream live messages matching a filter",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only show messages of this type",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Only show messages from this principal",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Only show messages addressed to this principal",
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Only show messages carrying this tag",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print single-line JSON instead of formatted output",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			filter := message.Filter{
				Type: c.String("type"),
				From: c.String("from"),
				To:   c.String("to"),
				Tag:  c.String("tag"),
			}
			return watch(ctx, c, filter, c.Bool("raw"))
		},
	}
}

func watch(ctx context.Context, c *cli.Command, filter message.Filter, raw bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgs := make(chan *message.Message, 64)
	unsubscribe, err := cl.Subscribe(filter, func(m *message.Message) {
		select {
		case msgs <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer unsubscribe()

	if !raw {
		fmt.Println("Watching for messages. Press Ctrl+C to stop.")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			if raw {
				fmt.Println(formatMessageRaw(m))
			} else {
				fmt.Println(formatMessage(m))
			}
		}
	}
}
