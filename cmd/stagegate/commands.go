// commands.go contains the cobra command definitions. Each builder creates a
// command and wires it to its handler.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/internal/config"
)

const defaultConfigPath = "stagegate.yaml"

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the review daemon",
		Long: `Start the stagegate daemon.

The daemon will:
1. Load configuration from the specified file (or stagegate.yaml)
2. Open the configured store backend (json or sqlite)
3. Restore the pending queue and reviewer history
4. Start the expiration sweep and any scheduled commands
5. Serve Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  stagegate serve

  # Start with custom config
  stagegate serve --config /etc/stagegate/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func buildPendingCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List commands awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			app, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer app.Close()

			cmds, err := app.baseStore.LoadAll(cmd.Context())
			if err != nil {
				return err
			}

			if len(cmds) == 0 {
				fmt.Println("No commands awaiting review.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREQUESTER\tCOMMAND\tAGE\tJUSTIFICATION")
			now := time.Now()
			for _, c := range cmds {
				age := now.Sub(c.StagedAt()).Truncate(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.SenderName, c.CommandLine, age, c.Justification)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and circuit breaker diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			app, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer app.Close()

			fmt.Printf("Backend: %s (data dir %s)\n", cfg.Store.Backend, cfg.Store.DataDir)

			cmds, err := app.retryStore.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pending commands: %d\n", len(cmds))
			fmt.Println(app.retryStore.StatusReport())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}
