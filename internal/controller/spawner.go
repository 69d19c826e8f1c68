package controller

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/qcsim/qcsim/config"
)

// Handle is a running plugin endpoint: a process, a goroutine, or
// whatever a caller-provided spawner produces.
type Handle interface {
	// Wait blocks until the plugin has exited and returns its result.
	Wait() error
	// Kill forcibly terminates the plugin; used once the shutdown
	// timeout has been exceeded.
	Kill() error
}

// Spawner starts one plugin given its configuration and the endpoint
// descriptor string it must be passed (the controller's listen address for
// this plugin to dial). Implementations may spawn an OS process, a
// goroutine, or delegate to a caller-supplied mechanism.
type Spawner interface {
	Spawn(ctx context.Context, cfg config.PluginConfig, endpoint string) (Handle, error)
}

// ProcessSpawner launches a plugin as a child OS process, mirroring the
// retained cborplugin client's launch(): exec.Command with the child's
// stdout and stderr sent to the host's own, and on Kill a SIGTERM followed
// by a two-second wait before SIGKILL.
type ProcessSpawner struct{}

type processHandle struct {
	cmd *exec.Cmd
}

// Spawn execs cfg.Path with args [cfg.Args..., endpoint], so the endpoint
// is always the last argument (for a script-interpreting plugin whose
// cfg.Args holds just the script path, that gives [script-path, endpoint]),
// the child's environment and working directory overridden per cfg.
func (ProcessSpawner) Spawn(ctx context.Context, cfg config.PluginConfig, endpoint string) (Handle, error) {
	args := append(append([]string{}, cfg.Args...), endpoint)
	cmd := exec.CommandContext(ctx, cfg.Path, args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn plugin %s: %w", cfg.Name, err)
	}
	return &processHandle{cmd: cmd}, nil
}

func (h *processHandle) Wait() error { return h.cmd.Wait() }

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return h.cmd.Process.Kill()
	}
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return h.cmd.Process.Kill()
	}
}

// ThreadSpawner runs a plugin as an in-process goroutine, for
// thread-affinity plugins and for tests; fn is handed the endpoint
// descriptor exactly as a process plugin would receive it as argv.
type ThreadSpawner struct {
	Fn func(endpoint string) error
}

type threadHandle struct {
	done chan error
}

func (s ThreadSpawner) Spawn(ctx context.Context, cfg config.PluginConfig, endpoint string) (Handle, error) {
	h := &threadHandle{done: make(chan error, 1)}
	go func() { h.done <- s.Fn(endpoint) }()
	return h, nil
}

func (h *threadHandle) Wait() error { return <-h.done }

// Kill is a no-op for a goroutine plugin: a goroutine cannot be stopped
// from outside, so it keeps running until its Fn returns.
func (h *threadHandle) Kill() error { return nil }
