// ABOUTME: Entry point for helpdesk-gateway
// ABOUTME: Cobra commands to serve, probe health, inspect routing and sessions, print the version

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _          _           _           _
| |__   ___| |_ __   __| | ___  ___| | __
| '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /
| | | |  __/ | |_) | (_| |  __/\__ \   <
|_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
             |_|
`

var cfgFile string

func main() {
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "loaded environment from .env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "helpdesk-gateway",
		Short:         "Conversational helpdesk gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HELPDESK_CONFIG or ~/.config/helpdesk/gateway.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(routeCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(versionCmd())
	return root
}

// loadConfig reads the config file. Without --config a missing file at the
// default location yields the built-in defaults.
func loadConfig() (*config.Config, string, error) {
	path := cfgFile
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "(defaults)", nil
		}
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.Kind)
	if cfg.Queue.Kind != config.QueueNone {
		green.Print("    ▶ ")
		fmt.Printf("Queue:     %s ", cfg.Queue.Kind)
		gray.Printf("(%s)\n", cfg.Queue.Topic)
	}
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    ")
		cyan.Println(cfg.Matrix.UserID)
	}
	if !cfg.LLM.Enabled {
		yellow.Println("    ! LLM disabled, messages get the intent-not-found reply")
	}
	fmt.Println()

	logger.Info("starting helpdesk-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.Kind,
		"queue", cfg.Queue.Kind,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return checkHealth(cmd.Context(), cfg.Server.HTTPAddr, cmd.OutOrStdout())
		},
	}
}

func checkHealth(ctx context.Context, addr string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <channel>",
		Short: "Print the product a channel routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printRoute(cfg, args[0], cmd.OutOrStdout())
		},
	}
}

func printRoute(cfg *config.Config, channel string, out io.Writer) error {
	router, err := gateway.BuildRouter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}

	product, err := router.Resolve(channel)
	if err != nil {
		var known []string
		for _, id := range router.ProductIDs() {
			known = append(known, id+": "+strings.Join(router.Channels(id), ", "))
		}
		return fmt.Errorf("%w: %q (known routes: %s)", err, channel, strings.Join(known, "; "))
	}

	fmt.Fprintf(out, "%s -> %s\n", channel, product)
	if desc := router.Description(product); desc != "" {
		fmt.Fprintf(out, "  %s\n", desc)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "helpdesk-gateway %s\n", version)
		},
	}
}
