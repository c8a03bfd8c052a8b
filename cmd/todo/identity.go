package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"tododapp.mini/tdm/internal/config"
	"tododapp.mini/tdm/internal/identity"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen [file]",
	Short: "Generate an ed25519 signing key",
	Long: `Generate an ed25519 signing key and write it as a PKCS8 PEM file.
The file defaults to key_file from the config. An existing key is never
overwritten unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeygen,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the address of the configured key",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var initCmd = &cobra.Command{
	Use:   "init <package-id>",
	Short: "Point the client at a deployed package",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(keygenCmd, whoamiCmd, initCmd)
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "Overwrite an existing key file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		path = cfg.KeyFile
	}

	if _, err := os.Stat(path); err == nil && !keygenForce {
		return fmt.Errorf("%s already exists (use --force to replace it)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := identity.Save(id, path); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Key generated: %s\nAddress: %s\n", path, id.Address())
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.id.Address())
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	s.cfg.PackageID = args[0]
	if !s.cfg.Configured() {
		return errors.New("package id must not be blank")
	}
	if err := s.saveConfig(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Using package %s (saved to %s)\n", s.cfg.PackageID, s.cfgPath)
	return nil
}
