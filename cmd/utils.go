package cmd

import (
	"fmt"

	"github.com/nitrogen-io/nitrogen-go/pkg/client"
	"github.com/nitrogen-io/nitrogen-go/pkg/config"
	"github.com/nitrogen-io/nitrogen-go/pkg/log"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
	"github.com/urfave/cli/v3"
)

// loadConfig loads the configuration and applies the debug flag.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.Bool("debug") || cfg.Debug {
		log.SetGlobalDebug(true)
	}
	return cfg, nil
}

// newClient builds a service client from the configuration.
func newClient(cfg *config.Config) (*client.Client, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("service_url not configured (run 'nitrogen init' and edit the config file)")
	}
	if cfg.PrincipalID == "" {
		return nil, fmt.Errorf("principal_id not configured")
	}
	return client.New(client.Config{
		ServiceURL: cfg.ServiceURL,
		Token:      cfg.Token,
		Principal: session.Principal{
			ID:   cfg.PrincipalID,
			Type: "device",
			Name: cfg.PrincipalName,
		},
		InitialBackoff: cfg.InitialBackoff.Duration,
		MaxBackoff:     cfg.MaxBackoff.Duration,
	}), nil
}
