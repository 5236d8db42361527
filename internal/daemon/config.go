// Package daemon wires every component into the single owning record
// spec.md §9's "Global mutable state" design note calls for: the main
// function constructs a Daemon once, and the event loop it owns is the only
// goroutine that ever mutates registry/job/supervisor state. Grounded on
// the teacher's internal/server.Server lifecycle shape (Config/Flags/New/
// Serve/GracefulStop), reused here as the shape for Daemon itself.
package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// Config is every path and timeout the daemon needs, defaulted per spec.md
// §6 (root vs. unprivileged paths) and overridable by flag.
type Config struct {
	SpoolDir        string
	SocketPath      string
	PidFile         string
	DataDir         string
	RuntimeDir      string
	ShutdownTimeout time.Duration
}

const DefaultShutdownTimeout = 300 * time.Second

// DefaultConfig computes spec.md §6's default paths for the calling
// process's privilege level.
func DefaultConfig() *Config {
	if os.Geteuid() == 0 {
		return &Config{
			SpoolDir:        "/etc/job.d",
			SocketPath:      "/var/run/jobd.sock",
			PidFile:         "/var/run/jobd.pid",
			DataDir:         "/var/lib/jobd",
			RuntimeDir:      "/var/run/jobd",
			ShutdownTimeout: DefaultShutdownTimeout,
		}
	}

	home, _ := os.UserHomeDir()
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		runtime = filepath.Join(home, ".jobd", "run")
	} else {
		runtime = filepath.Join(runtime, "jobd")
	}

	return &Config{
		SpoolDir:        filepath.Join(home, ".config", "job.d"),
		SocketPath:      filepath.Join(runtime, "jobd.sock"),
		PidFile:         filepath.Join(runtime, "jobd.pid"),
		DataDir:         filepath.Join(home, ".local", "share", "jobd"),
		RuntimeDir:      runtime,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Flags registers every path/timeout as a cobra flag, defaulting to
// DefaultConfig()'s privilege-appropriate values.
func (c *Config) Flags(cmd *cobra.Command) {
	d := DefaultConfig()
	cmd.Flags().StringVar(&c.SpoolDir, "spool-dir", d.SpoolDir, "directory scanned for job manifests")
	cmd.Flags().StringVar(&c.SocketPath, "socket", d.SocketPath, "path of the unix control socket")
	cmd.Flags().StringVar(&c.PidFile, "pidfile", d.PidFile, "path of the daemon's advisory pidfile")
	cmd.Flags().StringVar(&c.DataDir, "data-dir", d.DataDir, "directory for durable per-job property documents")
	cmd.Flags().StringVar(&c.RuntimeDir, "runtime-dir", d.RuntimeDir, "directory for transient per-job status documents")
	cmd.Flags().DurationVar(&c.ShutdownTimeout, "shutdown-timeout", d.ShutdownTimeout, "time to wait for a Running job to exit before SIGKILL on shutdown")
}
