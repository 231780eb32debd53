package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// LogModeEnv tells the child how to format its output.
const LogModeEnv = "LOCALLAB_LOG_MODE"

// LogModeChild is the LogModeEnv value set for spawned servers.
const LogModeChild = "child"

// ChildSpec describes the server process to start.
type ChildSpec struct {
	Host string
	Port int

	// Args are appended after the serve arguments.
	Args []string

	// Env is appended to the parent's environment.
	Env []string
}

// Child is a running server process.
type Child interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	Signal(sig os.Signal) error
	Kill() error

	// Wait blocks until the process exits. It may be called more than once.
	Wait() error
}

// Launcher starts server processes.
type Launcher interface {
	Launch(ctx context.Context, spec ChildSpec) (Child, error)
}

// ExecLauncher re-executes a binary with the serve subcommand.
type ExecLauncher struct {
	// Path is the executable. Defaults to os.Executable().
	Path string

	// Args are placed before the serve subcommand.
	Args []string
}

// Launch starts the child with its stdout and stderr connected to pipes.
func (l ExecLauncher) Launch(ctx context.Context, spec ChildSpec) (Child, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	args := append([]string{}, l.Args...)
	args = append(args, "serve", "--host", spec.Host, "--port", strconv.Itoa(spec.Port))
	args = append(args, spec.Args...)

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), LogModeEnv+"="+LogModeChild)
	cmd.Env = append(cmd.Env, spec.Env...)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start server process: %w", err)
	}

	c := &execChild{cmd: cmd, stdout: stdoutR, stderr: stderrR, done: make(chan struct{})}
	go c.wait()
	return c, nil
}

type execChild struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (c *execChild) wait() {
	c.waitErr = c.cmd.Wait()
	close(c.done)
}

func (c *execChild) Pid() int          { return c.cmd.Process.Pid }
func (c *execChild) Stdout() io.Reader { return c.stdout }
func (c *execChild) Stderr() io.Reader { return c.stderr }

func (c *execChild) Signal(sig os.Signal) error {
	return c.cmd.Process.Signal(sig)
}

func (c *execChild) Kill() error {
	return c.cmd.Process.Kill()
}

// Wait returns the exit error.
func (c *execChild) Wait() error {
	<-c.done
	return c.waitErr
}

// Close releases the pipe read ends.
func (c *execChild) Close() error {
	c.once.Do(func() {
		c.stdout.Close()
		c.stderr.Close()
	})
	return nil
}
