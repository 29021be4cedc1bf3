package terminal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/fluxcd/deployer/pkg/output"
)

func TestExecuteStreamsOutput(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out)
	ok, err := e.Execute(context.Background(), "echo hello", "echo oops >&2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, e.ExitStatus())
	assert.Equal(t, "hello\noops\n", output.Scan(out))
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out)
	ok, err := e.Execute(context.Background(), "echo before", "exit 3", "echo after")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, e.ExitStatus())
	assert.NotContains(t, output.Scan(out), "after")
}

func TestVerboseEchoesCommands(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out, Verbose(true))
	ok, err := e.Execute(context.Background(), "echo 'it''s'")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "» echo 'it''s'\nits\n", output.Scan(out))
}

func TestQuietSuppressesEcho(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out, Verbose(true))
	err := e.Quiet(func() error {
		_, err := e.Execute(context.Background(), "echo secret-login", e.VerboseCommand("echo pull"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "secret-login\n» echo pull\npull\n", output.Scan(out))
}

func TestTimeoutReportsFailure(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out, Timeout(100*time.Millisecond), CancelTimeout(time.Second))
	start := time.Now()
	ok, err := e.Execute(context.Background(), "sleep 20")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, time.Since(start) < 10*time.Second)
	assert.Contains(t, output.Scan(out), "Timeout: execution took longer than 100ms")
}

func TestCancelKillsStubbornProcesses(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out, CancelTimeout(100*time.Millisecond))

	result := make(chan bool)
	go func() {
		ok, _ := e.Execute(context.Background(), "trap '' INT", "echo started", "sleep 20")
		result <- ok
	}()

	require.Eventually(t, func() bool {
		return e.Pgid() != 0 && strings.Contains(output.Scan(out), "started")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, e.Pid(), e.Pgid())

	e.Cancel(unix.SIGINT)
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	assert.Equal(t, 0, e.Pid())
}

func TestContextCancellationInterrupts(t *testing.T) {
	out := output.NewBuffer()
	e := NewExecutor(out, CancelTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	ok, err := e.Execute(ctx, "sleep 20")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpawnErrorIsAnError(t *testing.T) {
	e := NewExecutor(output.NewBuffer())
	e.shell = "/nonexistent/shell"
	_, err := e.Execute(context.Background(), "true")
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	for in, want := range map[string]string{
		"":              "''",
		"plain":         "plain",
		"a b":           "'a b'",
		"it's":          `'it'\''s'`,
		"sha256:abc/de": "sha256:abc/de",
		"$HOME":         "'$HOME'",
	} {
		assert.Equal(t, want, Quote(in), in)
	}
}
