package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/stockpilot/internal/config"
	"github.com/harun/stockpilot/pkg/toolschema"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools exposed by the tool host",
	Long: `Discover the tools exposed by the configured tool host and print the
signature each one is registered with. No model credentials are needed.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.NewValidator().ValidateToolHost(cfg.ToolHost); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	client, err := newToolClient(cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer client.Close()

	catalog, err := client.DiscoverTools(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to discover tools: %w", err)
	}

	compiled := toolschema.CompileAll(catalog, client, log.Zerolog())
	out := cmd.OutOrStdout()
	if len(compiled) == 0 {
		fmt.Fprintln(out, "No tools available")
		return nil
	}
	for _, t := range compiled {
		if t.Description() != "" {
			fmt.Fprintf(out, "%s  %s\n", t.Signature(), t.Description())
		} else {
			fmt.Fprintln(out, t.Signature())
		}
	}
	return nil
}
