package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	root := buildRoot(newCommand(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(c *command) *cobra.Command {
	g := &GlobalFlags{}
	root := createRootCommand(g)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.AddCommand(
		createStartCommand(c, g),
		createStopCommand(c, g),
		createStatusCommand(c, g),
		createServeCommand(c, g),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "apprun",
		Short: "Run a local server once and open it in the browser",
		Long: `apprun starts a background server at most once per runtime directory,
waits until it announces its address, and opens that address in a browser.

Examples:
  apprun start                        # start or reuse, then open the browser
  apprun start --no-browser           # only print the address
  apprun status
  apprun stop
  apprun --config apprun.toml start`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.RuntimeDir, "runtime-dir", "", "directory holding server.pid, url.txt and server.log")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "diagnostics level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "diagnostics format: text, json, color")
	return root
}

func createStartCommand(c *command, g *GlobalFlags) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server, or reuse the running one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Start(ctx, *g, *f, cmd.Flags().Changed)
		},
	}
	cmd.Flags().BoolVar(&f.NoBrowser, "no-browser", false, "print the address instead of opening a browser")
	cmd.Flags().BoolVar(&f.Lock, "lock", false, "hold an exclusive lock on the runtime directory while starting")
	cmd.Flags().DurationVar(&f.ReadyInterval, "ready-interval", 0, "interval between readiness checks")
	cmd.Flags().IntVar(&f.ReadyAttempts, "ready-attempts", 0, "number of readiness checks before giving up")
	return cmd
}

func createStopCommand(c *command, g *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server, escalating to SIGKILL when it does not exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *g, *f, cmd.Flags().Changed)
		},
	}
	cmd.Flags().DurationVar(&f.Interval, "interval", 0, "interval between liveness checks after SIGTERM")
	cmd.Flags().IntVar(&f.Attempts, "attempts", 0, "number of liveness checks before SIGKILL")
	return cmd
}

func createStatusCommand(c *command, g *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVar(&f.Usage, "usage", false, "also print CPU, memory and thread count")
	return cmd
}

func createServeCommand(c *command, g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bundled static file server (supervised by start)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Serve(ctx, *g, *f, cmd.Flags().Changed)
		},
	}
	cmd.Flags().StringVar(&f.Root, "root", "", "document root")
	cmd.Flags().StringVar(&f.Addr, "addr", "", "listen address (default 127.0.0.1:0)")
	return cmd
}
