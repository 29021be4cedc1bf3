package gittest

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxcd/deployer/pkg/git"
)

// AppServerConfig is the role config committed by default; one
// Deployment and one Service, templated on the role and revision.
const AppServerConfig = `---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app-server
spec:
  replicas: 1
  selector:
    matchLabels:
      project: example
      role: app-server
  template:
    metadata:
      labels:
        project: example
        role: app-server
    spec:
      containers:
      - name: app
        image: docker-registry.example.com/example:latest
---
apiVersion: v1
kind: Service
metadata:
  name: app-server
spec:
  selector:
    project: example
    role: app-server
  ports:
  - port: 80
`

// Files are the contents of the first commit in a test repo.
var Files = map[string]string{
	"README.md":                 "# example\n",
	"kubernetes/app_server.yml": AppServerConfig,
}

// Upstream is a clone-able git repo that tests can commit to.
type Upstream struct {
	t       *testing.T
	workDir string
	bareDir string
}

// URL is what to give git.Remote to mirror this upstream.
func (u *Upstream) URL() string {
	return "file://" + u.bareDir
}

// Commit writes files into the upstream, commits and pushes them, and
// returns the new commit.
func (u *Upstream) Commit(msg string, files map[string]string) string {
	for path, content := range files {
		abs := filepath.Join(u.workDir, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			u.t.Fatal(err)
		}
		if err := ioutil.WriteFile(abs, []byte(content), 0644); err != nil {
			u.t.Fatal(err)
		}
	}
	u.git("add", "--all")
	u.git("commit", "-m", msg)
	u.git("push", "origin", "HEAD:master")
	return u.git("rev-parse", "HEAD")
}

// Tag tags the current upstream head and pushes the tag.
func (u *Upstream) Tag(name string) {
	u.git("tag", name)
	u.git("push", "origin", name)
}

// AddSubmodule adds sub as a submodule at path, commits and pushes,
// and returns the new commit.
func (u *Upstream) AddSubmodule(path string, sub *Upstream) string {
	u.git("-c", "protocol.file.allow=always", "submodule", "add", sub.URL(), path)
	u.git("commit", "-m", "Add submodule "+path)
	u.git("push", "origin", "HEAD:master")
	return u.git("rev-parse", "HEAD")
}

func (u *Upstream) git(args ...string) string {
	out, err := output("git", append([]string{"-C", u.workDir}, args...)...)
	if err != nil {
		u.t.Fatalf("git %v: %s", args, err)
	}
	return out
}

// NewUpstream creates a new upstream repo with one commit of Files.
// Also returns a cleanup func to clean up after.
func NewUpstream(t *testing.T) (*Upstream, func()) {
	newDir, err := ioutil.TempDir("", "deployer-gittest")
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() { os.RemoveAll(newDir) }

	u := &Upstream{
		t:       t,
		workDir: filepath.Join(newDir, "files"),
		bareDir: filepath.Join(newDir, "git"),
	}
	if _, err := output("git", "init", "--bare", u.bareDir); err != nil {
		cleanup()
		t.Fatal(err)
	}
	if _, err := output("git", "clone", u.bareDir, u.workDir); err != nil {
		cleanup()
		t.Fatal(err)
	}
	u.git("config", "--local", "user.email", "example@example.com")
	u.git("config", "--local", "user.name", "example")
	u.Commit("Initial revision", Files)
	return u, cleanup
}

// Repo makes a standard upstream and a git.Repo mirroring it, and
// returns both with a cleanup function.
func Repo(t *testing.T, opts ...git.Option) (*git.Repo, *Upstream, func()) {
	upstream, cleanupUpstream := NewUpstream(t)
	mirrorDir, err := ioutil.TempDir("", "deployer-gittest-mirror")
	if err != nil {
		cleanupUpstream()
		t.Fatal(err)
	}
	repo := git.NewRepo(git.Remote{URL: upstream.URL()}, mirrorDir, opts...)
	return repo, upstream, func() {
		os.RemoveAll(mirrorDir)
		cleanupUpstream()
	}
}

// AllowFileSubmodules lets git clone submodules from local upstreams,
// which newer versions of git refuse by default. It does so with a
// global config in a HOME of its own; the returned func puts HOME
// back.
func AllowFileSubmodules(t *testing.T) func() {
	home, err := ioutil.TempDir("", "deployer-gittest-home")
	if err != nil {
		t.Fatal(err)
	}
	config := "[protocol \"file\"]\n\tallow = always\n[user]\n\tname = example\n\temail = example@example.com\n"
	if err := ioutil.WriteFile(filepath.Join(home, ".gitconfig"), []byte(config), 0644); err != nil {
		os.RemoveAll(home)
		t.Fatal(err)
	}
	previous, had := os.LookupEnv("HOME")
	os.Setenv("HOME", home)
	return func() {
		if had {
			os.Setenv("HOME", previous)
		} else {
			os.Unsetenv("HOME")
		}
		os.RemoveAll(home)
	}
}

func output(cmd string, args ...string) (string, error) {
	c := exec.Command(cmd, args...)
	c.Stderr = ioutil.Discard
	out, err := c.Output()
	return strings.TrimSpace(string(out)), err
}
