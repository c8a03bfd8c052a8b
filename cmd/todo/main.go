package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"tododapp.mini/tdm/internal/client"
	"tododapp.mini/tdm/internal/config"
	"tododapp.mini/tdm/internal/identity"
	"tododapp.mini/tdm/internal/rpcclient"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "todo",
	Short: "A todo list kept on a tdm node",
	Long: `todo signs and submits todo list transactions to a tdm node and
shows the tasks owned by your key. Run without a subcommand to open the
terminal UI.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			log.SetOutput(io.Discard)
		}
	},
	RunE: runUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $CONFIG_FILE or "+config.DefaultFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write diagnostic log lines to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session bundles what every command needs to talk to a node.
type session struct {
	cfgPath string
	cfg     *config.Config
	id      *identity.Identity
	rpc     *rpcclient.Client
}

func openSession() (*session, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	id, err := identity.LoadOrCreate(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", cfg.KeyFile, err)
	}
	return &session{
		cfgPath: path,
		cfg:     cfg,
		id:      id,
		rpc:     rpcclient.NewClient(cfg.RPCURL, cfg.WSURL),
	}, nil
}

// controller builds a controller for packageID. Push is only wired when
// the config enables it; otherwise the controller polls.
func (s *session) controller(packageID string) *client.Controller {
	opts := client.Options{
		PackageID:    packageID,
		RefreshDelay: s.cfg.RefreshDelay.Duration,
		PollInterval: s.cfg.PollInterval.Duration,
		Events:       s.rpc,
	}
	if s.cfg.EnablePush {
		opts.Subscriber = s.rpc
	}
	return client.New(s.id, s.rpc, s.rpc, opts)
}

// loadedController returns a configured controller that has completed one
// refresh, for the one-shot commands.
func (s *session) loadedController(ctx context.Context) (*client.Controller, error) {
	if !s.cfg.Configured() {
		return nil, fmt.Errorf("%w: set package_id in %s or TDM_PACKAGE_ID", client.ErrUnconfigured, s.cfgPath)
	}
	ctrl := s.controller(s.cfg.PackageID)
	if err := ctrl.Refresh(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 30*time.Second)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
