// Package app drives one diagnosis run: it spawns the interception
// proxy, routes a single client invocation through it, waits a bounded
// time for a diagnosis record, persists the result, and tears everything
// down on every exit path.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rail44/culprit/internal/channel"
	"github.com/rail44/culprit/internal/config"
	"github.com/rail44/culprit/internal/diagnosis"
	"github.com/rail44/culprit/internal/log"
	"github.com/rail44/culprit/internal/proxy"
	"github.com/rail44/culprit/internal/trust"
)

const (
	startupGrace  = 750 * time.Millisecond
	probeDeadline = 5 * time.Second
)

var errProxyDied = errors.New("interception proxy exited during polling")

// Reporter receives phase transitions for display.
type Reporter interface {
	Phase(name, detail string)
}

type nopReporter struct{}

func (nopReporter) Phase(name, detail string) {}

// DiagnoseApp handles the diagnose command logic
type DiagnoseApp struct {
	reporter Reporter
}

// NewDiagnoseApp creates a new diagnose app
func NewDiagnoseApp(reporter Reporter) *DiagnoseApp {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &DiagnoseApp{reporter: reporter}
}

// Run executes one diagnosis run and returns the persisted record.
func (a *DiagnoseApp) Run(ctx context.Context, cfg *config.Config) (*diagnosis.Record, error) {
	a.reporter.Phase("prerequisites", "checking required tools")

	clientPath, err := exec.LookPath(cfg.Client)
	if err != nil {
		return nil, &RunError{
			Kind:   KindPrerequisite,
			Err:    fmt.Errorf("client command %q not found: %w", cfg.Client, err),
			Remedy: fmt.Sprintf("install %q or set client in culprit.toml", cfg.Client),
		}
	}
	self, err := os.Executable()
	if err != nil {
		return nil, &RunError{
			Kind:   KindPrerequisite,
			Err:    fmt.Errorf("failed to resolve own executable: %w", err),
			Remedy: "reinstall culprit so its binary path is resolvable",
		}
	}

	if !trust.Exists(cfg.TrustDir) {
		return nil, &RunError{
			Kind: KindCertificate,
			Err:  fmt.Errorf("interception CA not found in %s", cfg.TrustDir),
			Remedy: "run `culprit trust` once to generate the interception CA; " +
				"diagnosis runs only verify its presence and never generate it implicitly",
		}
	}

	cl := &cleanup{}
	defer cl.run()

	// Working files are run-scoped and ephemeral; only the result file
	// outlives the run.
	runID := uuid.NewString()[:8]
	runCfgPath := filepath.Join(os.TempDir(), "culprit-intercept-"+runID+".json")
	channelPath := filepath.Join(os.TempDir(), "culprit-channel-"+runID+".log")
	proxyLogPath := filepath.Join(os.TempDir(), "culprit-proxy-"+runID+".stderr.log")

	runCfg := proxy.RunConfig{
		Listen:   cfg.Listen,
		Endpoint: cfg.Endpoint,
		TrustDir: cfg.TrustDir,
		LogLevel: cfg.LogLevel,
	}
	if err := runCfg.Save(runCfgPath); err != nil {
		return nil, err
	}
	cl.addFile(runCfgPath)
	cl.addFile(channelPath)

	a.reporter.Phase("proxy", "starting interception proxy on "+cfg.Listen)

	proxyChild, err := a.startProxy(self, runCfgPath, channelPath, proxyLogPath)
	if err != nil {
		return nil, err
	}
	cl.addChild(proxyChild)
	// The proxy stderr log is a working file like the rest; failure paths
	// whose remediation points at it mark it kept below.
	cl.addFile(proxyLogPath)

	if err := a.probeProxy(ctx, proxyChild, cfg.Listen, proxyLogPath); err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			cl.keep(proxyLogPath)
		}
		return nil, err
	}

	a.reporter.Phase("client", fmt.Sprintf("launching %s through the proxy", cfg.Client))

	env := newClientEnv("http://"+cfg.Listen, trust.CertPath(cfg.TrustDir))
	clientCmd := exec.Command(clientPath, cfg.ClientArgs...)
	clientCmd.Env = env.environ()
	clientCmd.Stdout = io.Discard
	clientCmd.Stderr = io.Discard
	// Not waited on: the client may hang on its own timeout; the polling
	// loop below is the only wait that matters.
	clientChild, err := startChild("client", clientCmd)
	if err != nil {
		return nil, err
	}
	cl.addChild(clientChild)

	a.reporter.Phase("polling", fmt.Sprintf("waiting up to %s for a diagnosis", cfg.Timeout()))

	pollCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	tail := channel.NewTail(channelPath, cfg.PollInterval())
	rec, err := tail.Wait(pollCtx, func() error {
		if !proxyChild.alive() {
			return errProxyDied
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errProxyDied):
			cl.keep(proxyLogPath)
			return nil, &RunError{
				Kind:   KindProxyDied,
				Err:    err,
				Remedy: "inspect the proxy log at " + proxyLogPath,
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, &RunError{
				Kind: KindTimeout,
				Err:  fmt.Errorf("no schema-validation rejection observed within %s", cfg.Timeout()),
				Remedy: "confirm the client actually sends a request that the API rejects, " +
					"or raise timeout_seconds in culprit.toml",
			}
		default:
			// Interrupted; cleanup still runs via defer.
			return nil, err
		}
	}

	a.reporter.Phase("result", "persisting diagnosis to "+cfg.Result)

	if err := rec.Save(cfg.Result); err != nil {
		return nil, err
	}
	log.Info("diagnosis persisted", "path", cfg.Result, "message", rec.Message)

	return rec, nil
}

// startProxy launches the interception layer with its stdout redirected
// into the diagnosis channel file and its stderr captured separately so
// out-of-band logging can never tear a channel frame.
func (a *DiagnoseApp) startProxy(self, runCfgPath, channelPath, proxyLogPath string) (*child, error) {
	channelFile, err := os.OpenFile(channelPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagnosis channel: %w", err)
	}
	defer channelFile.Close()

	proxyLogFile, err := os.OpenFile(proxyLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy log: %w", err)
	}
	defer proxyLogFile.Close()

	cmd := exec.Command(self, "intercept", "--run-config", runCfgPath)
	cmd.Stdout = channelFile
	cmd.Stderr = proxyLogFile

	proxyChild, err := startChild("interception proxy", cmd)
	if err != nil {
		return nil, &RunError{
			Kind:   KindProxyStart,
			Err:    err,
			Remedy: "inspect the proxy log at " + proxyLogPath,
		}
	}
	return proxyChild, nil
}

// probeProxy waits a grace period, then dials the listen address until
// the proxy accepts or the probe deadline passes.
func (a *DiagnoseApp) probeProxy(ctx context.Context, proxyChild *child, listen, proxyLogPath string) error {
	select {
	case <-time.After(startupGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.Now().Add(probeDeadline)
	for {
		if !proxyChild.alive() {
			return &RunError{
				Kind:   KindProxyStart,
				Err:    fmt.Errorf("interception proxy exited during startup"),
				Remedy: "inspect the proxy log at " + proxyLogPath,
			}
		}
		conn, err := net.DialTimeout("tcp", listen, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return &RunError{
				Kind:   KindProxyStart,
				Err:    fmt.Errorf("interception proxy not reachable on %s: %w", listen, err),
				Remedy: "inspect the proxy log at " + proxyLogPath,
			}
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
