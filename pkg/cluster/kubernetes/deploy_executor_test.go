package kubernetes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8s_testing "k8s.io/client-go/testing"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/cluster"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/git/gittest"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
	"github.com/fluxcd/deployer/pkg/project"
)

func setupExecutor(files FileReader, client *dynamicfake.FakeDynamicClient) (*DeployExecutor, *job.Job, *output.Buffer) {
	p := testProject()
	j := testJob(p)
	clusters := cluster.NewRegistry()
	clusters.Add("test", client, nil)
	out := output.NewBuffer()
	return NewDeployExecutor(j, out, clusters, files), j, out
}

func deploymentExists(t *testing.T, client *dynamicfake.FakeDynamicClient, name string) bool {
	_, err := client.Resource(deploymentsGVR).Namespace("pod1").Get(name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func createdNames(client *dynamicfake.FakeDynamicClient, resource string) []string {
	var names []string
	for _, a := range client.Actions() {
		create, ok := a.(k8s_testing.CreateAction)
		if !ok || a.GetResource().Resource != resource {
			continue
		}
		names = append(names, create.GetObject().(*unstructured.Unstructured).GetName())
	}
	return names
}

func conflictOn(resource string) k8s_testing.ReactionFunc {
	return func(action k8s_testing.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewConflict(schema.GroupResource{Resource: resource}, "app-server", errors.New("no"))
	}
}

func TestExecuteDeploys(t *testing.T) {
	client := fakeClient()
	e, _, out := setupExecutor(fakeFiles{configFile: appServerConfig}, client)
	ok, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	deployment, err := client.Resource(deploymentsGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	require.NoError(t, err)
	replicas, _, _ := unstructured.NestedInt64(deployment.Object, "spec", "replicas")
	assert.Equal(t, int64(2), replicas)
	assert.Contains(t, output.Scan(out), "Deploying pod1 app-server to cluster test (2 replicas)")
}

func TestExecuteFromRepository(t *testing.T) {
	repo, _, cleanup := gittest.Repo(t)
	defer cleanup()
	ctx := context.Background()
	commit, tag, err := repo.Resolve(ctx, "master")
	require.NoError(t, err)

	client := fakeClient()
	e, j, _ := setupExecutor(repo, client)
	j.UpdateGitReferences(commit, tag)
	ok, err := e.Execute(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, deploymentExists(t, client, "app-server"))
}

func TestExecuteRevertsOnConflict(t *testing.T) {
	client := fakeClient()
	client.PrependReactor("create", "deployments", conflictOn("deployments"))
	e, _, out := setupExecutor(fakeFiles{configFile: appServerConfig}, client)

	ok, err := e.Execute(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = client.Resource(servicesGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
	assert.Contains(t, output.Scan(out), "Reverting pod1 app-server")
}

func TestExecuteRevertsEarlierDocuments(t *testing.T) {
	client, otherClient := fakeClient(), fakeClient()
	otherClient.PrependReactor("create", "deployments", func(action k8s_testing.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig}, client)
	stage := j.Stage()
	stage.DeployGroups = append(stage.DeployGroups, &project.DeployGroup{
		Name: "Pod 2", Permalink: "pod2", Namespace: "pod1", Cluster: "other",
	})
	e.Clusters.(*cluster.Registry).Add("other", otherClient, nil)

	ok, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.False(t, fluxerr.IsConflict(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, []string{"app-server"}, createdNames(client, "deployments"))
	assert.False(t, deploymentExists(t, client, "app-server"))
}

func TestExecuteValidatesBeforeDeploying(t *testing.T) {
	client := fakeClient()
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig}, client)
	j.Project.Roles = append(j.Project.Roles, &project.Role{Name: "worker", ConfigFile: "kubernetes/worker.yml", Replicas: 1})

	ok, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, fluxerr.IsUser(err))
	assert.Contains(t, err.Error(), "kubernetes/worker.yml")
	assert.Empty(t, verbs(client, "create"))
}

func TestExecuteNothingToDeploy(t *testing.T) {
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig}, fakeClient())
	j.Project.Roles[0].Replicas = 0
	_, err := e.Execute(context.Background())
	assert.True(t, fluxerr.IsUser(err))
}

func TestExecuteUnknownCluster(t *testing.T) {
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig}, fakeClient())
	j.Stage().DeployGroups[0].Cluster = "nope"
	_, err := e.Execute(context.Background())
	assert.True(t, fluxerr.IsMissing(err))
}

func TestExecutePrerequisitesFirst(t *testing.T) {
	const migrations = `---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: migrations
  annotations:
    deployer.fluxcd.io/prerequisite: "true"
spec:
  selector:
    matchLabels:
      role: migrations
  template:
    metadata:
      labels:
        role: migrations
    spec:
      containers:
      - name: migrate
        image: docker-registry.example.com/example:latest
`
	client := fakeClient()
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig, "kubernetes/migrations.yml": migrations}, client)
	j.Project.Roles = append(j.Project.Roles, &project.Role{Name: "migrations", ConfigFile: "kubernetes/migrations.yml", Replicas: 1})

	ok, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"migrations", "app-server"}, createdNames(client, "deployments"))
}

func TestExecuteRolloutTimeout(t *testing.T) {
	client := fakeClient()
	e, _, out := setupExecutor(fakeFiles{configFile: appServerConfig}, client)
	e.RolloutTimeout = 50 * time.Millisecond
	e.RolloutInterval = 10 * time.Millisecond

	ok, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	scanned := output.Scan(out)
	assert.Contains(t, scanned, "Waiting for 2 pods of pod1 app-server")
	assert.Contains(t, scanned, "Timed out")
	assert.False(t, deploymentExists(t, client, "app-server"))
}

func TestExecuteFailedBuild(t *testing.T) {
	client := fakeClient()
	e, j, _ := setupExecutor(fakeFiles{configFile: appServerConfig}, client)
	builds := build.NewMemLookup()
	require.NoError(t, builds.Put("example", build.Build{Name: "app", Commit: j.Commit(), Status: build.StatusFailed}))
	e.Builds = builds

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, fluxerr.IsUser(err))
	assert.Empty(t, verbs(client, "create"))
}
