package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nitrogen-io/nitrogen-go/pkg/config"
	"github.com/nitrogen-io/nitrogen-go/pkg/journal"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// HistoryCommand creates the history command
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show messages recorded in the local journal",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of messages to show",
				Value: 50,
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print single-line JSON instead of formatted output",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return showHistory(cfg, c.Int("limit"), c.Bool("raw"))
		},
	}
}

// showHistory displays the most recent journal entries, newest first,
// followed by a per-type summary.
func showHistory(cfg *config.Config, limit int, raw bool) error {
	if cfg.JournalPath == "" {
		return fmt.Errorf("journal_path not configured")
	}

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() {
		if err := jnl.Close(); err != nil {
			fmt.Printf("Warning: failed to close journal: %v\n", err)
		}
	}()

	msgs, err := jnl.Recent(limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	if raw {
		for _, m := range msgs {
			fmt.Println(formatMessageRaw(m))
		}
		return nil
	}

	fmt.Println(titleStyle.Render("Message History"))

	if len(msgs) == 0 {
		fmt.Println(noDataStyle.Render("No messages recorded yet."))
		return nil
	}

	for _, m := range msgs {
		fmt.Println(formatMessage(m))
	}

	counts, err := jnl.CountByType()
	if err != nil {
		return fmt.Errorf("counting journal: %w", err)
	}

	var types []string
	total := 0
	for typ, n := range counts {
		types = append(types, typ)
		total += n
	}
	sort.Strings(types)

	titler := cases.Title(language.English)
	var parts []string
	for _, typ := range types {
		display := titler.String(strings.TrimPrefix(typ, "_"))
		parts = append(parts, fmt.Sprintf("%s: %d", display, counts[typ]))
	}

	summary := fmt.Sprintf("Total: %d messages (%s)", total, strings.Join(parts, ", "))
	fmt.Println(summaryStyle.Render(summary))

	return nil
}
