package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/client-intake/frontend/internal/backend"
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/client-intake/frontend/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the intake form in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		// The terminal belongs to the form, so logs go to a file.
		logger, err = newLogger(cfg.Advanced.LogLevel, filepath.Join(cfg.GetDataDir(), "tui.log"))
		if err != nil {
			return err
		}

		rt, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		m, err := tui.New(rt.sessions, rt.client, rt.catalog)
		if err != nil {
			return err
		}
		logger.Info("terminal session started", zap.String("session", m.SessionID()))

		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

var clientsTimeout time.Duration

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Print the clients registered with the intake service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Advanced.LogLevel, "")
		if err != nil {
			return err
		}
		catalog, err := messages.Load(cfg.Intake.Locale, cfg.Intake.MessagesFile)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), clientsTimeout)
		defer cancel()

		client := backend.NewClient(cfg.Backend.BaseURL, cfg.GetBackendTimeout(), logger)
		list := flow.LoadClientList(ctx, client)
		if list.Status == flow.ListFailed {
			return fmt.Errorf("%s: %w", catalog.Text(list.ErrorKey), list.Err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.ClientTable(catalog, list.Clients))
		return nil
	},
}

func init() {
	clientsCmd.Flags().DurationVar(&clientsTimeout, "timeout", 30*time.Second, "Give up after this long")
}
