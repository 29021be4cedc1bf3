package build

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/output"
)

const testDigest = "sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BUILD_FROM_Dockerfile", Build{Name: "Dockerfile"}.EnvName())
	assert.Equal(t, "BUILD_FROM_Dockerfile_worker", Build{Name: "Dockerfile.worker"}.EnvName())
	assert.Equal(t, "BUILD_FROM_my_app_2", Build{Name: "my-app/2"}.EnvName())
}

func TestValidate(t *testing.T) {
	for _, c := range []struct {
		name    string
		build   Build
		wantErr bool
	}{
		{"pinned", Build{Name: "app", Image: "registry.example.com/app@" + testDigest, Status: StatusSucceeded}, false},
		{"tagged only", Build{Name: "app", Image: "registry.example.com/app:latest", Status: StatusSucceeded}, true},
		{"bad digest", Build{Name: "app", Image: "registry.example.com/app@sha256:abc", Status: StatusSucceeded}, true},
		{"pending needs no image", Build{Name: "app", Status: StatusPending}, false},
		{"no name", Build{Image: "registry.example.com/app@" + testDigest, Status: StatusSucceeded}, true},
	} {
		t.Run(c.name, func(t *testing.T) {
			err := c.build.Validate()
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestForImage(t *testing.T) {
	builds := []Build{
		{Name: "worker", Image: "registry.example.com/worker@" + testDigest, Status: StatusSucceeded},
		{Name: "app", Image: "registry.example.com/app@" + testDigest, Status: StatusSucceeded},
		{Name: "alpine", Image: "alpine@" + testDigest, Status: StatusSucceeded},
	}
	b, ok := ForImage(builds, "registry.example.com/app:latest")
	assert.True(t, ok)
	assert.Equal(t, "app", b.Name)

	b, ok = ForImage(builds, "docker.io/library/alpine:3.10")
	assert.True(t, ok)
	assert.Equal(t, "alpine", b.Name)

	_, ok = ForImage(builds, "registry.example.com/other")
	assert.False(t, ok)
}

func TestMemLookup(t *testing.T) {
	l := NewMemLookup()
	require.NoError(t, l.Put("example", Build{Name: "app", Commit: "abc", Status: StatusRunning}))
	require.NoError(t, l.Put("example", Build{Name: "app", Commit: "abc", Status: StatusSucceeded, Image: "app@" + testDigest}))
	assert.Error(t, l.Put("example", Build{Name: "app", Status: StatusRunning}))

	builds, err := l.Lookup(context.Background(), "example", "abc")
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, StatusSucceeded, builds[0].Status)

	builds, err = l.Lookup(context.Background(), "example", "def")
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func testFinder(l Lookup) *Finder {
	f := NewFinder(l, output.NewBuffer())
	f.Interval = 10 * time.Millisecond
	f.Timeout = 200 * time.Millisecond
	return f
}

func TestEnsureSucceededBuildsWaits(t *testing.T) {
	l := NewMemLookup()
	require.NoError(t, l.Put("example", Build{Name: "app", Commit: "abc", Status: StatusRunning}))
	f := testFinder(l)
	f.Timeout = 5 * time.Second

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, l.Put("example", Build{Name: "app", Commit: "abc", Status: StatusSucceeded, Image: "app@" + testDigest}))
	}()

	builds, err := f.EnsureSucceededBuilds(context.Background(), "example", "abc", true)
	wg.Wait()
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Contains(t, output.Scan(f.Out), "Waiting for builds to finish: app")
}

func TestEnsureSucceededBuildsFailures(t *testing.T) {
	l := NewMemLookup()
	require.NoError(t, l.Put("example", Build{Name: "app", Commit: "abc", Status: StatusFailed}))

	_, err := testFinder(l).EnsureSucceededBuilds(context.Background(), "example", "abc", true)
	assert.True(t, errors.IsUser(err))

	_, err = testFinder(l).EnsureSucceededBuilds(context.Background(), "example", "none", true)
	assert.True(t, errors.IsTransient(err))

	builds, err := testFinder(l).EnsureSucceededBuilds(context.Background(), "example", "none", false)
	assert.NoError(t, err)
	assert.Empty(t, builds)
}

func TestEnsureSucceededBuildsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testFinder(NewMemLookup()).EnsureSucceededBuilds(ctx, "example", "abc", true)
	assert.Error(t, err)
}
