package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/kbaudit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify kbaudit configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/kbaudit/config.yaml
Project-specific overrides can be placed in .kbaudit.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			return displayAllConfig(w)
		case 1:
			return displayConfigKey(w, args[0])
		default:
			return setConfigKey(w, args[0], args[1])
		}
	},
}

// displayAllConfig prints every key with its effective value.
func displayAllConfig(w io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, key := range config.Keys() {
		value, err := configValue(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	fmt.Fprintf(w, "\napi key source: %s\n", config.GetAPIKeySource(cfg))
	if cfg.ProjectFile != "" {
		fmt.Fprintf(w, "project config: %s\n", cfg.ProjectFile)
	}
	return nil
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(w io.Writer, key string) error {
	value, err := configValue(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, value)
	return nil
}

// setConfigKey sets a configuration value in the user config file.
func setConfigKey(w io.Writer, key, value string) error {
	if err := config.Set(key, value); err != nil {
		return err
	}
	if key == "reviewer.api_key" {
		value = config.MaskAPIKey(value)
	}
	fmt.Fprintf(w, "Set %s = %s\n", key, value)
	return nil
}

// configValue renders one effective value, masking the API key.
func configValue(key string) (string, error) {
	v, err := config.Get(key)
	if err != nil {
		return "", err
	}
	var s string
	switch val := v.(type) {
	case []string:
		s = strings.Join(val, ",")
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		s = strings.Join(parts, ",")
	case nil:
		s = ""
	default:
		s = fmt.Sprint(val)
	}
	if key == "reviewer.api_key" {
		if s == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(s), nil
	}
	return s, nil
}
