package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"amcache/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			issues := config.ValidatePipeline(p)
			for _, iss := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return &exitError{code: 1, err: fmt.Errorf("configuration is invalid")}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect amcache configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long:  `Print the configuration after merging defaults, the config file, AMCACHE_* variables and flags. Secrets are omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			b, err := config.YAML(p)
			if err != nil {
				return err
			}
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})
	return cmd
}
