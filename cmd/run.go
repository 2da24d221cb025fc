package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nitrogen-io/nitrogen-go/pkg/command"
	"github.com/nitrogen-io/nitrogen-go/pkg/config"
	"github.com/nitrogen-io/nitrogen-go/pkg/journal"
	"github.com/nitrogen-io/nitrogen-go/pkg/log"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
	"github.com/urfave/cli/v3"
)

// RunCommand creates the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the switch agent daemon for the configured device",
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c)
		},
	}
}

// agent bundles a running command manager with the session it operates
// over. The journal is shared with the outer run loop and survives
// restarts.
type agent struct {
	manager *command.Manager
	session session.Session
	close   func()
}

func (a *agent) stop() {
	a.manager.Stop()
	if a.close != nil {
		a.close()
	}
}

// startAgent connects to the service and starts a command manager with
// a switch handler for the configured device.
func startAgent(ctx context.Context, cfg *config.Config, jnl *journal.Journal, logger *log.Logger) (*agent, error) {
	cl, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	device := session.Principal{
		ID:   cfg.PrincipalID,
		Type: "device",
		Name: cfg.PrincipalName,
	}

	handler := command.NewSwitchHandler(device, func(on bool) error {
		state := "off"
		if on {
			state = "on"
		}
		logger.Infof("switch %s is now %s", device.ID, state)
		return nil
	})

	mgr := command.NewManager(device, handler)

	onMessage := func(m *message.Message) {
		logger.Debugf("processed %s (%s)", m.Type, m.ID)
		if jnl == nil {
			return
		}
		if err := jnl.Record(m); err != nil {
			logger.Warnf("recording message %s: %v", m.ID, err)
		}
	}

	if err := mgr.Start(ctx, cl, mgr.CommandFilter(), onMessage); err != nil {
		cl.Close()
		return nil, fmt.Errorf("starting command manager: %w", err)
	}

	return &agent{manager: mgr, session: cl, close: cl.Close}, nil
}

// run starts the agent daemon. The configuration file is watched and
// the agent restarts when it changes; SIGHUP forces a reload.
func run(ctx context.Context, c *cli.Command) error {
	configPath := c.String("config")
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := log.ForComponent("agent")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			if err := jnl.Close(); err != nil {
				logger.Warnf("closing journal: %v", err)
			}
		}()
	}

	current, err := startAgent(ctx, cfg, jnl, logger)
	if err != nil {
		return err
	}
	defer func() { current.stop() }()

	// Set up filesystem watcher for config file
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("failed to close config file watcher: %v", err)
			}
		}()

		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
	}

	reload := func() {
		newCfg, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Errorf("reloading config: %v", err)
			return
		}
		replacement, err := startAgent(ctx, newCfg, jnl, logger)
		if err != nil {
			logger.Errorf("restarting agent: %v", err)
			return
		}
		current.stop()
		current = replacement
		logger.Infof("configuration reloaded, agent restarted")
	}

	logger.Infof("agent running for device %s, press Ctrl+C to stop", cfg.PrincipalID)

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Infof("received SIGHUP, reloading configuration")
			reload()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// React to write, create, rename, and remove events (editors often use atomic writes)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				logger.Infof("config file changed (%s), reloading", event.Op.String())
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					// The file was replaced; give the editor a moment to
					// finish writing, then re-add the new inode.
					time.Sleep(100 * time.Millisecond)
					if err := watcher.Add(configPath); err != nil {
						logger.Warnf("re-watching config file: %v", err)
					}
				}
				reload()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
