package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
	"github.com/fluxcd/deployer/pkg/project"
)

func testDeploy() *job.Deploy {
	p := &project.Project{Name: "Example", Permalink: "example"}
	return job.NewDeploy(p, &project.Stage{Permalink: "staging"}, project.User{Email: "jo@example.com"}, "master")
}

func TestEmptyRegistry(t *testing.T) {
	var r Registry
	ctx := context.Background()
	d := testDeploy()
	assert.NoError(t, r.FirePreCheckout(ctx, "/tmp", d.Job, output.NewBuffer()))
	ok, err := r.FireValidateDeploy(ctx, d, output.NewBuffer())
	assert.NoError(t, err)
	assert.True(t, ok)
	env, err := r.FireEnv(ctx, d)
	assert.NoError(t, err)
	assert.Empty(t, env)
}

func TestCheckoutHooksAllRun(t *testing.T) {
	var r Registry
	var called []string
	r.OnPostCheckout(func(context.Context, string, *job.Job, *output.Buffer) error {
		called = append(called, "first")
		return errors.New("first failed")
	})
	r.OnPostCheckout(func(_ context.Context, dir string, _ *job.Job, _ *output.Buffer) error {
		called = append(called, dir)
		return nil
	})

	err := r.FirePostCheckout(context.Background(), "/work", testDeploy().Job, output.NewBuffer())
	assert.EqualError(t, err, "first failed")
	assert.Equal(t, []string{"first", "/work"}, called)
}

func TestValidateDeployIsAnded(t *testing.T) {
	for _, c := range []struct {
		name    string
		results []bool
		want    bool
	}{
		{"all pass", []bool{true, true}, true},
		{"one fails", []bool{true, false, true}, false},
		{"only one", []bool{false}, false},
	} {
		t.Run(c.name, func(t *testing.T) {
			var r Registry
			calls := 0
			for _, res := range c.results {
				res := res
				r.OnValidateDeploy(func(context.Context, *job.Deploy, *output.Buffer) (bool, error) {
					calls++
					return res, nil
				})
			}
			ok, err := r.FireValidateDeploy(context.Background(), testDeploy(), output.NewBuffer())
			assert.NoError(t, err)
			assert.Equal(t, c.want, ok)
			assert.Equal(t, len(c.results), calls)
		})
	}
}

func TestEnvIsMerged(t *testing.T) {
	var r Registry
	r.OnEnv(func(context.Context, *job.Deploy) (map[string]string, error) {
		return map[string]string{"A": "1", "B": "1"}, nil
	})
	r.OnEnv(func(context.Context, *job.Deploy) (map[string]string, error) {
		return map[string]string{"B": "2"}, nil
	})
	env, err := r.FireEnv(context.Background(), testDeploy())
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, env)
}
