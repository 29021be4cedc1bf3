package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

// Env vars that are allowed to be inherited from the OS
var allowedEnvVars = []string{
	// these are for people using (no) proxies. Git follows the curl conventions, so HTTP_PROXY
	// is intentionally missing
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY", "GIT_PROXY_COMMAND",
	// these are needed for ssh and git to find keys and config
	"HOME", "GIT_SSH_COMMAND", "SSH_AUTH_SOCK",
}

type gitCmdConfig struct {
	dir string
	env []string
	out io.Writer
}

func mirror(ctx context.Context, workingDir, repoURL string) error {
	args := []string{"clone", "--mirror", repoURL, workingDir}
	if err := execGitCmd(ctx, args, gitCmdConfig{}); err != nil {
		return errors.Wrap(err, "git clone --mirror")
	}
	return nil
}

func fetch(ctx context.Context, workingDir string) error {
	args := []string{"remote", "update", "--prune"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}); err != nil {
		return errors.Wrap(err, "git remote update")
	}
	return nil
}

// Get the commit hash for a reference, or "" if there is no such
// commit
func refRevision(ctx context.Context, workingDir, ref string) (string, error) {
	out := &bytes.Buffer{}
	args := []string{"rev-parse", "--verify", "--quiet", ref + "^{commit}"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", nil
	}
	return strings.TrimSpace(out.String()), nil
}

// describe returns the nearest tag reachable from rev, with a suffix
// when rev is not itself tagged, e.g., `v1.2-3-gabc1234`.
func describe(ctx context.Context, workingDir, rev string) (string, error) {
	out := &bytes.Buffer{}
	args := []string{"describe", "--tags", rev}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func addWorktree(ctx context.Context, workingDir, path, rev string) error {
	args := []string{"worktree", "add", "--detach", path, rev}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}); err != nil {
		return errors.Wrap(err, "git worktree add")
	}
	return nil
}

func pruneWorktrees(ctx context.Context, workingDir string) error {
	args := []string{"worktree", "prune"}
	return execGitCmd(ctx, args, gitCmdConfig{dir: workingDir})
}

func updateSubmodules(ctx context.Context, workingDir string) error {
	args := []string{"submodule", "update", "--init", "--recursive"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}); err != nil {
		return errors.Wrap(err, "git submodule update")
	}
	return nil
}

func objectExists(ctx context.Context, workingDir, object string) bool {
	args := []string{"cat-file", "-e", object}
	return execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}) == nil
}

func show(ctx context.Context, workingDir, object string) ([]byte, error) {
	out := &bytes.Buffer{}
	args := []string{"show", object}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execGitCmd runs a `git` command with the supplied arguments.
func execGitCmd(ctx context.Context, args []string, config gitCmdConfig) error {
	c := exec.CommandContext(ctx, "git", args...)

	if config.dir != "" {
		c.Dir = config.dir
	}
	c.Env = append(env(), config.env...)
	stdErr := &threadSafeBuffer{}
	c.Stderr = stdErr
	if config.out != nil {
		c.Stdout = config.out
	}

	begin := time.Now()
	err := c.Run()
	commandDuration.With(
		labelCommand, args[0],
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())

	if err != nil {
		if len(stdErr.Bytes()) > 0 {
			err = errors.New(strings.TrimSpace(stdErr.String()))
			if msg := findErrorMessage(bytes.NewReader(stdErr.Bytes())); msg != "" {
				err = fmt.Errorf("%s, full output:\n %s", msg, err.Error())
			}
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("running git command: %s %v", "git", args))
	} else if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("context was unexpectedly cancelled when running git command: %s %v", "git", args))
	}
	return err
}

func env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}

	// include allowed env vars from os
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}

	return env
}

func findErrorMessage(output io.Reader) string {
	sc := bufio.NewScanner(output)
	for sc.Scan() {
		switch {
		case strings.HasPrefix(sc.Text(), "fatal: "):
			return sc.Text()
		case strings.HasPrefix(sc.Text(), "ERROR fatal: "): // Saw this error on ubuntu systems
			return sc.Text()
		case strings.HasPrefix(sc.Text(), "error:"):
			return strings.TrimPrefix(sc.Text(), "error: ")
		}
	}
	return ""
}
