package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/matheus3301/tilechat/internal/profile"
	"github.com/matheus3301/tilechat/internal/tui"
	"github.com/matheus3301/tilechat/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	noStart := flag.Bool("no-start", false, "do not start chatd when it is not running")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)

	if !probeDaemon(socketPath) {
		if *noStart {
			fmt.Fprintf(os.Stderr, "daemon not running for profile %q\n", profileName)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
		if err := startDaemon(profileName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if err := waitForDaemon(socketPath, 10*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "daemon did not become ready: %v (see %s)\n", err, profile.LogPath(profileName))
			os.Exit(1)
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, profileName)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon checks that a daemon answers GetStatus on the socket.
func probeDaemon(socketPath string) bool {
	return probe(context.Background(), socketPath) == nil
}

func probe(ctx context.Context, socketPath string) error {
	c, err := client.New(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = c.GetStatus(ctx)
	return err
}

// startDaemon launches chatd from next to this binary, falling back to PATH.
// Its output goes to the profile log, not the terminal the TUI draws on.
func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	chatd := filepath.Join(filepath.Dir(executable), "chatd")
	if _, err := os.Stat(chatd); err != nil {
		chatd = "chatd"
	}

	cmd := exec.Command(chatd, "--profile", profileName)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// waitForDaemon retries the GetStatus probe until it succeeds or timeout
// passes.
func waitForDaemon(socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	bo := backoff.WithContext(backoff.NewConstantBackOff(300*time.Millisecond), ctx)
	return backoff.Retry(func() error {
		return probe(ctx, socketPath)
	}, bo)
}
