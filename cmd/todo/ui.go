package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"tododapp.mini/tdm/internal/client"
	"tododapp.mini/tdm/internal/config"
	"tododapp.mini/tdm/internal/ui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the terminal UI",
	Args:  cobra.NoArgs,
	RunE:  runUI,
}

func init() {
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := s.controller(s.cfg.PackageID)
	app := ui.NewApp(ctx, ctrl, s.configure)

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

// configure persists a package id entered on the setup screen and returns
// a controller bound to it.
func (s *session) configure(packageID string) (*client.Controller, error) {
	s.cfg.PackageID = packageID
	if err := s.saveConfig(); err != nil {
		return nil, err
	}
	return s.controller(packageID), nil
}

func (s *session) saveConfig() error {
	if err := config.Save(s.cfg, s.cfgPath); err != nil {
		return fmt.Errorf("save config %s: %w", s.cfgPath, err)
	}
	return nil
}
