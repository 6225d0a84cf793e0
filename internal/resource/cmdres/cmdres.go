// Package cmdres implements the sub-process outbound Resource of §6
// (config_resource_cmdexec_1), adapted from original_source's
// lib/pmnc/popen.py: Execute launches a child process with its stdin/
// stdout/stderr fully redirected (no inherited handles — Go's os/exec
// never inherits file descriptors by default, so the win32-specific
// no-inherit dance popen.py does is unnecessary here) and streams
// stdin/stdout/stderr concurrently via three helper goroutines, the
// §9 design note's natural task-group fit.
package cmdres

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of config_resource_cmdexec_1.
type Config struct {
	Env []string // additional environment, appended to os.Environ()
}

// Resource is a fire-and-forget pythomnic Resource (§3): a subprocess
// invocation has no begin/commit phase, matching protocol_cmdexec.py's
// one-shot execute.
type Resource struct {
	cfg Config
}

func New(cfg Config) *Resource { return &Resource{cfg: cfg} }

// Connect is a no-op: the child process is spawned fresh on every
// Execute, matching the original's per-call popen rather than a
// long-lived connection.
func (r *Resource) Connect(req *corereq.Request) error { return nil }

// Execute runs args[0] as the command, args[1:] as its arguments, and
// an optional "stdin" kwarg as the bytes written to the child's stdin.
// It returns a map with "stdout", "stderr" ([]byte each) and
// "exit_code" (int), bounded by req.Remain().
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, classify.ResourceInput("cmdexec requires a command name", nil)
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, classify.ResourceInput("cmdexec first argument must be a command name", nil)
	}
	argv := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		argv = append(argv, toString(a))
	}

	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()

	cmd := exec.CommandContext(ctx, name, argv...)
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.cfg.Env...)
	}

	var stdinBuf []byte
	if v, ok := kwargs["stdin"]; ok {
		stdinBuf, _ = v.([]byte)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, classify.ResourceError("", "", "cmdexec stdin pipe failed", true, true, err)
	}
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, classify.ResourceError("", "", "cmdexec start failed", true, true, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stdin.Close()
		if len(stdinBuf) > 0 {
			io.Copy(stdin, bytes.NewReader(stdinBuf))
		}
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, classify.Deadline("cmdexec", true)
	}
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, classify.ResourceError("", "", "cmdexec wait failed", true, true, waitErr)
		}
	}

	return map[string]any{
		"stdout":    stdout.Bytes(),
		"stderr":    stderr.Bytes(),
		"exit_code": exitCode,
	}, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Disconnect is a no-op: no process survives across Execute calls.
func (r *Resource) Disconnect() {}
