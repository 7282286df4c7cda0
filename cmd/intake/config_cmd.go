package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/client-intake/frontend/internal/config"
	"github.com/client-intake/frontend/internal/messages"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the XML configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config:        %s\n", path)
		fmt.Fprintf(out, "Listen:        %s\n", cfg.GetServerAddr())
		fmt.Fprintf(out, "Backend:       %s (timeout %s)\n", cfg.Backend.BaseURL, cfg.GetBackendTimeout())
		fmt.Fprintf(out, "Uploads:       %s (max %d bytes)\n", cfg.GetUploadDir(), cfg.GetMaxUploadSize())
		fmt.Fprintf(out, "Locale:        %s (available: %v)\n", cfg.Intake.Locale, messages.Locales())
		fmt.Fprintf(out, "Phone pattern: %q\n", cfg.Intake.PhonePattern)
		fmt.Fprintf(out, "Max files:     %d\n", cfg.Intake.MaxFiles)
		fmt.Fprintf(out, "Sessions:      max %d, timeout %s\n", cfg.Intake.MaxSessions, cfg.SessionTimeout())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
