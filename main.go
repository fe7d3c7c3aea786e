// jetdash keeps a laptop connected to a Jetson node and feeds its readiness
// report to a local dashboard.
//
// Usage:
//
//	jetdash run       attach to Wi-Fi, open the SSH session and poll
//	jetdash check     run one readiness check and print the summary
//	jetdash close     tear down the SSH session
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"jetdash/cmd/check"
	"jetdash/cmd/closesession"
	"jetdash/cmd/edit"
	"jetdash/cmd/fetch"
	"jetdash/cmd/history"
	"jetdash/cmd/profile"
	"jetdash/cmd/run"
	"jetdash/pkg/config"
)

const (
	defaultUserPath  = "~/.jetdash/config.toml"
	defaultLocalPath = "jetdash.toml"
	version          = "1.0.0"
)

// resolveConfig returns the --config value or the first existing default.
func resolveConfig(flag string) string {
	if flag != "" {
		return flag
	}
	if _, err := os.Stat(defaultLocalPath); err == nil {
		return defaultLocalPath
	}
	return config.ExpandPath(defaultUserPath)
}

func newRootCmd() *cobra.Command {
	var configFlag string
	configPath := func() string { return resolveConfig(configFlag) }

	rootCmd := &cobra.Command{
		Use:           "jetdash",
		Short:         "Keep a Jetson node connected and its readiness dashboard fed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		fmt.Sprintf("path to config file (default: ./%s, then %s)", defaultLocalPath, defaultUserPath))

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Attach to Wi-Fi, open the SSH session and poll until interrupted",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return run.Run(configPath()) },
		},
		&cobra.Command{
			Use:   "check",
			Short: "Run one readiness check and print the summary",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return check.Run(configPath()) },
		},
		&cobra.Command{
			Use:   "close",
			Short: "Tear down the SSH session (no-op if none is open)",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return closesession.Run(configPath()) },
		},
		&cobra.Command{
			Use:   "fetch <remote-path> <local-path>",
			Short: "Copy a file from the node over the shared session",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return fetch.Run(configPath(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "profile <ssid>",
			Short: "Write the Windows WLAN profile for a configured network",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return profile.Run(configPath(), args[0])
			},
		},
		newHistoryCmd(configPath),
		&cobra.Command{
			Use:   "edit",
			Short: "Edit the configuration file in your system editor",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return edit.EditConfig(configPath()) },
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run:   func(*cobra.Command, []string) { fmt.Printf("jetdash v%s\n", version) },
		},
	)
	return rootCmd
}

func newHistoryCmd(configPath func() string) *cobra.Command {
	limit := 20
	var show int
	cmd := &cobra.Command{
		Use:   "history [count]",
		Short: "Show recent poll cycles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid count: %s", args[0])
				}
				limit = n
			}
			if show < 0 {
				return fmt.Errorf("invalid --show: %d", show)
			}
			return history.Run(configPath(), limit, show)
		},
	}
	cmd.Flags().IntVar(&show, "show", 0, "print the stored documents of cycle n (1 is the most recent)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
