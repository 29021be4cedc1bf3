package git

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteChangeWaitsForReaders(t *testing.T) {
	root, err := ioutil.TempDir("", "deployer-mirrors")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	mirrors := NewMirrors(root)
	old, _ := mirrors.Mirror("example", Remote{URL: "file:///srv/git/old.git"})
	require.NoError(t, os.MkdirAll(old.Dir(), 0755))
	old.cloned = true

	// a job reading from the mirror
	old.mu.RLock()
	replaced := make(chan *Repo)
	go func() {
		repo, _ := mirrors.Mirror("example", Remote{URL: "file:///srv/git/new.git"})
		replaced <- repo
	}()

	select {
	case <-replaced:
		t.Fatal("mirror was replaced while being read")
	case <-time.After(100 * time.Millisecond):
	}
	_, err = os.Stat(old.Dir())
	assert.NoError(t, err, "mirror should still be on disk")

	old.mu.RUnlock()
	var repo *Repo
	select {
	case repo = <-replaced:
	case <-time.After(5 * time.Second):
		t.Fatal("mirror was never replaced")
	}
	assert.Equal(t, "file:///srv/git/new.git", repo.Origin().URL)
	_, err = os.Stat(filepath.Join(root, "example"))
	assert.True(t, os.IsNotExist(err))

	_, err = old.FileContent(context.Background(), "HEAD", "README.md")
	assert.Equal(t, ErrNotCloned, err)
}
