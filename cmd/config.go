package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ktamas77/claudeway/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the gateway configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func loadConfigOrExit() *config.Config {
	cfgPath := config.DiscoverPath(cfgFile)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective per-channel configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			fmt.Printf("config: %s\n", cfg.Path())
			if cfg.SystemChannel != "" {
				fmt.Printf("system channel: %s\n", cfg.SystemChannel)
			}

			ids := cfg.ChannelIDs()
			sort.Strings(ids)
			if len(ids) == 0 {
				fmt.Println("no channels configured")
				return
			}
			for _, id := range ids {
				r, ok := cfg.Resolve(id)
				if !ok {
					continue
				}
				fmt.Printf("\n#%s (%s)\n", r.Name, id)
				fmt.Printf("  folder:        %s\n", r.Folder)
				if r.Model != "" {
					fmt.Printf("  model:         %s\n", r.Model)
				}
				fmt.Printf("  response mode: %s\n", r.ResponseMode)
				fmt.Printf("  process mode:  %s\n", r.ProcessMode)
				fmt.Printf("  idle timeout:  %s\n", r.Timeout)
			}
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s: OK (%d channels)\n", cfg.Path(), len(cfg.ChannelIDs()))
		},
	}
}
