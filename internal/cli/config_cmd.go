package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/contextcore/coyote/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error
		if len(args) == 1 {
			cfg, err = config.Load(args[0])
		} else if cfgPath != "" {
			cfg, err = config.Load(cfgPath)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Config is valid.")
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e.Error())
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
