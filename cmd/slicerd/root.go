package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orrn/slicer/internal/config"
	"github.com/orrn/slicer/internal/core"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "slicerd",
		Short:         "3D model slicing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newProfilesCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand(&configFlag))

	return rootCmd
}

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and slicing workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configFlag)
		},
	}
}

func newProfilesCommand(configFlag *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Print the configured slicing profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			catalog, err := core.NewProfileCatalog(cfg.Profiles)
			if err != nil {
				return fmt.Errorf("load profiles: %w", err)
			}

			out := cmd.OutOrStdout()
			if output == "" {
				output = "yaml"
				if isTerminal(out) {
					output = "table"
				}
			}

			switch output {
			case "table":
				fmt.Fprintln(out, renderProfiles(catalog.List()))
				return nil
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg.Profiles)
			default:
				return fmt.Errorf("unsupported output %q (valid: table, yaml)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: table or yaml (default: table on a terminal)")
	return cmd
}

func newConfigCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
