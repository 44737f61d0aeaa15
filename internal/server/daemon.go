package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/platform/github"
	"github.com/alanmeadows/foreman/internal/store"
)

// PIDFilePath returns the path to the orchestrator daemon PID file.
func PIDFilePath() string {
	return filepath.Join(dataDir(), "foremand.pid")
}

// LogFilePath returns the path to the orchestrator daemon log file.
func LogFilePath() string {
	return filepath.Join(dataDir(), "logs", "foremand.log")
}

// dataDir resolves the same directory NewOrchestrator stores its state in, so
// a configured data_dir override moves the PID and log files along with the
// queue. Falls back to the default resolution when no config file loads.
func dataDir() string {
	if cfg, err := config.Load(); err == nil {
		return cfg.DataDir()
	}
	cfg := config.DefaultConfig()
	return cfg.DataDir()
}

// StartDaemon starts the orchestrator, forked into the background unless
// foreground is set. A file lock prevents concurrent starts.
func StartDaemon(foreground bool) error {
	lockPath := PIDFilePath() + ".lock"
	return store.WithLock(lockPath, 5*time.Second, func() error {
		if running, pid, _, _ := DaemonStatus(); running {
			return fmt.Errorf("orchestrator already running (PID %d)", pid)
		}
		if foreground {
			return RunForeground()
		}
		return forkDaemon()
	})
}

func forkDaemon() error {
	logFile := LogFilePath()
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	cmd := exec.Command(os.Args[0], "orchestrator", "start", "--foreground")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		f.Close()
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	pid := cmd.Process.Pid

	// Do not Wait in the parent; the child writes its own PID file.
	cmd.Process.Release()
	f.Close()

	fmt.Printf("orchestrator started (PID: %d)\n", pid)
	fmt.Printf("log file: %s\n", logFile)
	return nil
}

// RunForeground builds the orchestrator from configuration and runs it
// until SIGTERM or SIGINT.
func RunForeground() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateOrchestrator(cfg); err != nil {
		return err
	}

	client := github.NewClient(cfg.Platform.Token)
	o, err := NewOrchestrator(cfg, client)
	if err != nil {
		return err
	}

	if err := writePIDFile(os.Getpid()); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return o.Run(ctx)
}

// StopDaemon sends SIGTERM to the running orchestrator and waits for exit.
func StopDaemon() error {
	running, pid, _, err := DaemonStatus()
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("orchestrator is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
			removePIDFile()
			return nil
		}
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			_ = proc.Signal(syscall.SIGKILL)
			removePIDFile()
			return fmt.Errorf("orchestrator did not stop gracefully, sent SIGKILL")
		case <-ticker.C:
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				removePIDFile()
				return nil
			}
		}
	}
}

// DaemonStatus checks whether the orchestrator daemon is running.
// Returns: running, pid, uptime, error.
func DaemonStatus() (bool, int, time.Duration, error) {
	pidFile := PIDFilePath()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, 0, nil
		}
		return false, 0, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, 0, fmt.Errorf("invalid PID file: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		removePIDFile()
		return false, 0, 0, nil
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		// Stale PID file.
		removePIDFile()
		return false, 0, 0, nil
	}

	info, err := os.Stat(pidFile)
	if err != nil {
		return true, pid, 0, nil
	}
	return true, pid, time.Since(info.ModTime()), nil
}

func writePIDFile(pid int) error {
	pidFile := PIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("creating PID directory: %w", err)
	}

	tmp := pidFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, pidFile)
}

func removePIDFile() {
	_ = os.Remove(PIDFilePath())
}

// InstallSystemdService writes a systemd user unit for the orchestrator and
// enables it.
func InstallSystemdService() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("getting home dir: %w", err)
	}

	unitDir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("creating systemd directory: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	unit := fmt.Sprintf(`[Unit]
Description=Foreman Orchestrator
After=network.target

[Service]
Type=simple
ExecStart=%s orchestrator start --foreground
Restart=on-failure
RestartSec=5s
TimeoutStopSec=30
Environment=HOME=%s

[Install]
WantedBy=default.target
`, execPath, home)

	unitPath := filepath.Join(unitDir, "foreman.service")
	if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", "--now", "foreman.service"},
	} {
		cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("systemctl --user %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
	}

	fmt.Printf("installed and started %s\n", unitPath)
	return nil
}
