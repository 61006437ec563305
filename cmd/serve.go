package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitsz-openauto/hoa-pr/internal/api"
	"github.com/hitsz-openauto/hoa-pr/internal/daemon"
	webui "github.com/hitsz-openauto/hoa-pr/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket API and the web chat client",
	Long: `Run the conversation API (/api/v1/...), the WebSocket transport
(/api/v1/ws) and the embedded browser chat client in the foreground.

Use 'hoa-pr serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd, serveStopCmd, serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "hoa-pr-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "hoa-pr-serve.log")
}

// newHandler mounts the API under /api/ and the chat client everywhere else.
func newHandler(d *deps) (http.Handler, error) {
	web, err := webui.Handler()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize UI handler: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewServer(d.engine, d.store, d.locator, d.budget).Router())
	mux.Handle("/", web)
	return mux, nil
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer pf.Release()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := newHandler(d)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("serve.port"))
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.Success("Serving at http://localhost%s", addr)
	slog.Info("server started", "addr", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	ui.Info("Server stopped")
	return nil
}

// serveStartRun re-executes the binary as a detached `serve` child that
// logs to serveLogPath.
func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	args := []string{"serve", "--port", fmt.Sprint(viper.GetInt("serve.port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %v (log: %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(serveLogPath()), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	if err := pf.WritePID(pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (PID %d), logging to %s", pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server not running")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}
	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			_ = pf.Remove()
			ui.Success("Server stopped (PID %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not stop in %s, killing PID %d", shutdownTimeout, pid)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill PID %d: %w", pid, err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}
	ui.Success("Server running (PID %d) on port %d", pid, viper.GetInt("serve.port"))
	ui.Info("Log: %s", serveLogPath())
	return nil
}
