package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ccodaemon/ccod/pkg/config"
)

// runDoctorCmd checks configuration and environment without starting
// the daemon, mirroring cmd/helm's `doctor` command.
func runDoctorCmd(stdout, stderr io.Writer) int {
	ok := true

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stdout, "[FAIL] config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "[ OK ] config: loaded from %s\n", filepath.Join(cfg.StateDir, "config.toml"))

	for _, dir := range []string{cfg.StateDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(stdout, "[FAIL] writable dir %s: %v\n", dir, err)
			ok = false
			continue
		}
		fmt.Fprintf(stdout, "[ OK ] writable dir: %s\n", dir)
	}

	pidPath := filepath.Join(cfg.StateDir, "ccod.pid")
	if _, err := os.Stat(pidPath); err == nil {
		fmt.Fprintf(stdout, "[WARN] pid file present: %s (daemon may already be running)\n", pidPath)
	} else {
		fmt.Fprintf(stdout, "[ OK ] no stale pid file\n")
	}

	if cfg.AlternateUpstreamURL != "" && os.Getenv(cfg.AlternateAPIKeyEnv) == "" {
		fmt.Fprintf(stdout, "[WARN] %s is unset; alternate-provider routing will forward without an API key\n", cfg.AlternateAPIKeyEnv)
	}

	if !ok {
		return 1
	}
	fmt.Fprintln(stdout, "ccod: doctor checks passed")
	return 0
}

// runHealthCmd probes a running daemon's /health endpoint.
func runHealthCmd(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "ccod health: config: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port))
	if err != nil {
		fmt.Fprintf(stderr, "ccod health: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "ccod health: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
