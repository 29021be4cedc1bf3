package git

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFindErrorMessage(t *testing.T) {
	for _, c := range []struct {
		output string
		want   string
	}{
		{"Cloning into 'x'...\nfatal: repository 'x' does not exist\n", "fatal: repository 'x' does not exist"},
		{"ERROR fatal: Could not read from remote repository.\n", "ERROR fatal: Could not read from remote repository."},
		{"error: pathspec 'nope' did not match\n", "pathspec 'nope' did not match"},
		{"warning: nothing to see\n", ""},
	} {
		assert.Equal(t, c.want, findErrorMessage(strings.NewReader(c.output)))
	}
}

func TestEnvOnlyAllowsListedVars(t *testing.T) {
	for _, kv := range env() {
		name := strings.SplitN(kv, "=", 2)[0]
		if name == "GIT_TERMINAL_PROMPT" {
			continue
		}
		assert.Contains(t, allowedEnvVars, name)
	}
}

func TestExecGitCmdReportsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := execGitCmd(ctx, []string{"version"}, gitCmdConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "running git command")
}

func TestRefRevisionOutsideRepo(t *testing.T) {
	dir, err := ioutil.TempDir("", "deployer-git")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	rev, err := refRevision(context.Background(), dir, "HEAD")
	assert.NoError(t, err)
	assert.Empty(t, rev)
}
