package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/commitgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage commitgate configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create a default configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFile()
		if err != nil {
			return fail(err)
		}
		if _, err := os.Stat(path); err == nil {
			ui.Warning("Config file already exists at %s", path)
			return nil
		}
		if err := config.Save(path, config.Default()); err != nil {
			return fail(fmt.Errorf("writing config: %w", err))
		}
		ui.Success("Config file created at %s", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Short:       "Set a configuration value",
	Long:        "Set a configuration value by dotted key, e.g. generation.max_tokens. Run 'commitgate config keys' for the full list.",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{noSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFile()
		if err != nil {
			return fail(err)
		}
		c, err := config.LoadFile(path)
		if err != nil {
			return fail(err)
		}
		if err := config.SetField(&c, args[0], args[1]); err != nil {
			exitCode = ExitUsageError
			ui.Error("%v", err)
			return nil
		}
		if err := config.Save(path, c); err != nil {
			return fail(fmt.Errorf("saving config: %w", err))
		}
		ui.Success("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if cfg.Format == "json" {
			data, err = json.MarshalIndent(cfg, "", "  ")
			data = append(data, '\n')
		} else {
			data, err = yaml.Marshal(cfg)
		}
		if err != nil {
			return fail(err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configKeysCmd = &cobra.Command{
	Use:         "keys",
	Short:       "List settable configuration keys",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noSetup: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

func configFile() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return config.ConfigPath()
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
}
