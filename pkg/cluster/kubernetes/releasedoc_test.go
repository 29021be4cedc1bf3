package kubernetes

import (
	"context"
	"strings"
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
	"github.com/fluxcd/deployer/pkg/cluster/kubernetes/resource"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/git"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/project"
)

var (
	deploymentsGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
	servicesGVR    = schema.GroupVersionResource{Version: "v1", Resource: "services"}
	pdbsGVR        = schema.GroupVersionResource{Group: "policy", Version: "v1beta1", Resource: "poddisruptionbudgets"}

	now = time.Date(2019, 10, 1, 12, 0, 0, 0, time.UTC)
)

const configFile = "kubernetes/app_server.yml"

const appServerConfig = `---
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
        env:
        - name: REVISION
          value: from-config
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

// fakeFiles is a repository with one commit, which has the files
// given.
type fakeFiles map[string]string

func (f fakeFiles) FileContent(ctx context.Context, commit, path string) ([]byte, error) {
	content, ok := f[path]
	if !ok {
		return nil, git.MissingFileError(commit, path)
	}
	return []byte(content), nil
}

func testProject() *project.Project {
	return &project.Project{
		Name:          "Example",
		Permalink:     "example",
		RepositoryURL: "https://github.com/example/example.git",
		Roles: []*project.Role{
			{Name: "app-server", ConfigFile: configFile, Replicas: 2},
		},
		Stages: []*project.Stage{{
			Name:       "Staging",
			Permalink:  "staging",
			Kubernetes: true,
			DeployGroups: []*project.DeployGroup{
				{Name: "Pod 1", Permalink: "pod1", EnvValue: "pod1", Namespace: "pod1", Cluster: "test"},
			},
		}},
	}
}

func testJob(p *project.Project) *job.Job {
	d := job.NewDeploy(p, p.Stages[0], project.User{Name: "Alice", Email: "alice@example.com"}, "master")
	d.Job.URL = "https://deployer.example.com/deploys/1"
	d.Job.UpdateGitReferences("abc123", "v1.0")
	return d.Job
}

func parse(t *testing.T, doc string) *resource.Manifest {
	manifests, err := resource.ParseMultidoc([]byte(doc), "test")
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	return manifests[0]
}

func fakeClient(objs ...*resource.Manifest) *dynamicfake.FakeDynamicClient {
	var runtimeObjs []runtime.Object
	for _, o := range objs {
		runtimeObjs = append(runtimeObjs, o.Unstructured.DeepCopy())
	}
	return dynamicfake.NewSimpleDynamicClient(runtime.NewScheme(), runtimeObjs...)
}

func verbs(client *dynamicfake.FakeDynamicClient, verb string) []string {
	var result []string
	for _, a := range client.Actions() {
		if a.GetVerb() == verb {
			result = append(result, a.GetResource().Resource)
		}
	}
	return result
}

// testDoc makes a release document of the test project's only role,
// in its only deploy group.
func testDoc(files fakeFiles, client *dynamicfake.FakeDynamicClient) *ReleaseDoc {
	p := testProject()
	r := NewRelease(testJob(p), files, nil)
	r.Now = func() time.Time { return now }
	c := &cluster.Cluster{Name: "test", Client: client, Namespaces: cluster.AlwaysInclude}
	return NewReleaseDoc(r, p.Stages[0].DeployGroups[0], p.Roles[0], c)
}

func kinds(manifests []*resource.Manifest) []string {
	var result []string
	for _, m := range manifests {
		result = append(result, m.GetKind())
	}
	return result
}

func containerEnv(t *testing.T, m *resource.Manifest) map[string]string {
	env := map[string]string{}
	require.NoError(t, m.MapContainers(func(c map[string]interface{}) error {
		vars, _, _ := unstructured.NestedSlice(c, "env")
		for _, v := range vars {
			entry := v.(map[string]interface{})
			env[entry["name"].(string)] = entry["value"].(string)
		}
		return nil
	}))
	return env
}

func TestResourceTemplateFillsIn(t *testing.T) {
	doc := testDoc(fakeFiles{configFile: appServerConfig}, fakeClient())
	manifests, err := doc.ResourceTemplate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Deployment", "Service"}, kinds(manifests))

	deployment := manifests[0]
	assert.Equal(t, "pod1", deployment.GetNamespace())
	assert.Equal(t, int64(2), deployment.Replicas())
	assert.Equal(t, map[string]string{
		"project":      "example",
		"role":         "app-server",
		"deploy_group": "pod1",
	}, deployment.GetLabels())
	url, _ := deployment.Annotation(resource.DeployURLAnnotation)
	assert.Equal(t, "https://deployer.example.com/deploys/1", url)

	env := containerEnv(t, deployment)
	assert.Equal(t, "abc123", env["REVISION"])
	assert.Equal(t, "v1.0", env["TAG"])
	assert.Equal(t, "pod1", env["DEPLOY_GROUP"])
	assert.Equal(t, "example", env["PROJECT"])
	assert.Equal(t, "app-server", env["ROLE"])
	assert.Equal(t, string(doc.Release.Job.Deploy.ID), env["DEPLOY_ID"])

	assert.Equal(t, "pod1", manifests[1].GetNamespace())
	assert.Equal(t, "app-server", manifests[1].GetName())
}

func TestResourceTemplateIsReadOnce(t *testing.T) {
	files := fakeFiles{configFile: appServerConfig}
	doc := testDoc(files, fakeClient())
	_, err := doc.ResourceTemplate(context.Background())
	require.NoError(t, err)

	// another document of the same release gets the cached file
	delete(files, configFile)
	other := NewReleaseDoc(doc.Release, doc.DeployGroup, doc.Role, doc.Cluster)
	_, err = other.ResourceTemplate(context.Background())
	assert.NoError(t, err)
}

func TestResourceTemplateNamespace(t *testing.T) {
	const config = `---
apiVersion: v1
kind: ServiceAccount
metadata:
  name: app
  namespace: elsewhere
---
apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRole
metadata:
  name: app
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: app
`
	doc := testDoc(fakeFiles{configFile: config}, fakeClient())
	doc.Release.Project.Namespace = "example"
	manifests, err := doc.ResourceTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", manifests[0].GetNamespace())
	assert.Equal(t, "", manifests[1].GetNamespace())
	assert.Equal(t, "example", manifests[2].GetNamespace())
}

func TestResourceTemplateNames(t *testing.T) {
	const config = appServerConfig + `---
apiVersion: v1
kind: Service
metadata:
  name: app-server-metrics
spec:
  ports:
  - port: 9090
---
apiVersion: v1
kind: Service
metadata:
  name: app-server-admin
  annotations:
    deployer.fluxcd.io/keep_name: "true"
spec:
  ports:
  - port: 8080
`
	t.Run("renamed after the role", func(t *testing.T) {
		doc := testDoc(fakeFiles{configFile: config}, fakeClient())
		doc.Role.ResourceName = "example-app-server"
		doc.Role.ServiceName = "example-web"
		manifests, err := doc.ResourceTemplate(context.Background())
		require.NoError(t, err)
		var names []string
		for _, m := range manifests {
			names = append(names, m.GetName())
		}
		assert.Equal(t, []string{"example-app-server", "example-web", "example-web-2", "app-server-admin"}, names)
	})

	t.Run("keep_name", func(t *testing.T) {
		kept := strings.Replace(appServerConfig, "  name: app-server\nspec:\n  replicas", "  name: app-server\n  annotations:\n    deployer.fluxcd.io/keep_name: \"true\"\nspec:\n  replicas", 1)
		doc := testDoc(fakeFiles{configFile: kept}, fakeClient())
		doc.Role.ResourceName = "example-app-server"
		manifests, err := doc.ResourceTemplate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "app-server", manifests[0].GetName())
	})
}

func TestResourceTemplateUsesBuilds(t *testing.T) {
	const image = "docker-registry.example.com/example@sha256:5e2d9f1c7a0a7f5d1c3b6e2c8f9a4b7d6e5c4b3a291807f6e5d4c3b2a1908f7e"
	doc := testDoc(fakeFiles{configFile: appServerConfig}, fakeClient())
	doc.Release.Builds = []build.Build{{Name: "app", Image: image, Commit: "abc123", Status: build.StatusSucceeded}}
	manifests, err := doc.ResourceTemplate(context.Background())
	require.NoError(t, err)
	var images []string
	require.NoError(t, manifests[0].MapContainers(func(c map[string]interface{}) error {
		images = append(images, c["image"].(string))
		return nil
	}))
	assert.Equal(t, []string{image}, images)
}

func TestResourceTemplateRendersVariables(t *testing.T) {
	config := strings.Replace(appServerConfig, "  name: app-server\nspec:\n  selector", "  name: app-server-{{ .DeployGroup | lower }}\nspec:\n  selector", 1)
	doc := testDoc(fakeFiles{configFile: config}, fakeClient())
	manifests, err := doc.ResourceTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-server-pod1", manifests[1].GetName())
}

func TestResourceTemplateUserErrors(t *testing.T) {
	for _, c := range []struct {
		name   string
		files  fakeFiles
		noRole bool
		want   string
	}{
		{name: "missing config file", files: fakeFiles{}, want: configFile},
		{name: "invalid YAML", files: fakeFiles{configFile: "kind: [Deployment"}, want: configFile},
		{name: "not a mapping", files: fakeFiles{configFile: "- a\n- b\n"}, want: "not a mapping"},
		{name: "bad template", files: fakeFiles{configFile: "name: {{ .Nope }}"}, want: configFile},
		{name: "empty", files: fakeFiles{configFile: "# nothing\n"}, want: "no resources"},
		{name: "no role", files: fakeFiles{configFile: appServerConfig}, noRole: true, want: "no role"},
	} {
		t.Run(c.name, func(t *testing.T) {
			doc := testDoc(c.files, fakeClient())
			if c.noRole {
				doc.Role = nil
			}
			_, err := doc.ResourceTemplate(context.Background())
			require.Error(t, err)
			assert.True(t, fluxerr.IsUser(err), "expected user error, got %v", err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestValidateChecksNamespaces(t *testing.T) {
	doc := testDoc(fakeFiles{configFile: appServerConfig}, fakeClient())
	doc.Cluster.Namespaces = cluster.NamespaceGlobs{Allow: []string{"pod*"}, Deny: []string{"pod1"}}
	err := doc.Validate(context.Background())
	require.Error(t, err)
	assert.True(t, fluxerr.IsUser(err))

	doc = testDoc(fakeFiles{configFile: appServerConfig}, fakeClient())
	doc.Cluster.Namespaces = cluster.NamespaceGlobs{Allow: []string{"pod*"}}
	assert.NoError(t, doc.Validate(context.Background()))
}

func TestResourcesOrder(t *testing.T) {
	const config = `---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app-server
spec:
  selector:
    matchLabels:
      role: app-server
  template:
    metadata:
      labels:
        role: app-server
    spec:
      containers:
      - name: app
        image: example
---
apiVersion: v1
kind: Service
metadata:
  name: app-server
---
apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRoleBinding
metadata:
  name: app-server
---
apiVersion: v1
kind: ServiceAccount
metadata:
  name: app-server
`
	doc := testDoc(fakeFiles{configFile: config}, fakeClient())
	resources, err := doc.Resources(context.Background())
	require.NoError(t, err)
	var got []string
	for _, r := range resources {
		got = append(got, r.Kind())
	}
	assert.Equal(t, []string{"ServiceAccount", "ClusterRoleBinding", "Service", "Deployment"}, got)
}

func TestDeployAndRevert(t *testing.T) {
	existing := parse(t, `---
apiVersion: v1
kind: Service
metadata:
  name: app-server
  namespace: pod1
  labels:
    before: deploy
spec:
  clusterIP: 10.0.0.1
  ports:
  - port: 8080
`)
	client := fakeClient(existing)
	doc := testDoc(fakeFiles{configFile: appServerConfig}, client)
	ctx := context.Background()

	require.NoError(t, doc.Deploy(ctx))
	assert.True(t, doc.Deployed())
	_, err := client.Resource(deploymentsGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	require.NoError(t, err)
	svc, err := client.Resource(servicesGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "app-server", svc.GetLabels()["role"])

	require.NoError(t, doc.Revert(ctx))
	assert.False(t, doc.Deployed())
	_, err = client.Resource(deploymentsGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
	svc, err = client.Resource(servicesGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"before": "deploy"}, svc.GetLabels())

	// a snapshot is good for one revert
	assert.Equal(t, ErrNotDeployed, doc.Revert(ctx))
}

func TestRevertBeforeDeploy(t *testing.T) {
	doc := testDoc(fakeFiles{configFile: appServerConfig}, fakeClient())
	assert.Equal(t, ErrNotDeployed, doc.Revert(context.Background()))
}

func TestRevertCarriesOnPastErrors(t *testing.T) {
	client := fakeClient()
	doc := testDoc(fakeFiles{configFile: appServerConfig}, client)
	ctx := context.Background()
	require.NoError(t, doc.Deploy(ctx))
	client.ClearActions()

	client.PrependReactor("delete", "services", func(action k8s_testing.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewServiceUnavailable("boom")
	})
	err := doc.Revert(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, doc.Deployed())

	// the deployment is still deleted, after the service failed
	assert.Equal(t, []string{"services", "deployments"}, verbs(client, "delete"))
	_, err = client.Resource(deploymentsGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestDeployStopsAtFirstError(t *testing.T) {
	client := fakeClient()
	client.PrependReactor("create", "deployments", func(action k8s_testing.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewConflict(schema.GroupResource{Group: "apps", Resource: "deployments"}, "app-server", nil)
	})
	const config = `---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: app-server
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: app-server
---
apiVersion: v1
kind: Service
metadata:
  name: app-server
`
	doc := testDoc(fakeFiles{configFile: config}, client)
	err := doc.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, fluxerr.IsConflict(err))
	assert.Equal(t, []string{"services", "deployments"}, verbs(client, "create"))

	// the service that was created goes again; the deployment was
	// never there
	assert.NoError(t, doc.Revert(context.Background()))
	_, err = client.Resource(servicesGVR).Namespace("pod1").Get("app-server", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestDesiredPodCountAndPrerequisite(t *testing.T) {
	config := strings.Replace(appServerConfig, "  name: app-server\nspec:\n  replicas", "  name: app-server\n  annotations:\n    deployer.fluxcd.io/prerequisite: \"true\"\nspec:\n  replicas", 1)
	doc := testDoc(fakeFiles{configFile: config}, fakeClient())
	assert.False(t, doc.Prerequisite())
	require.NoError(t, doc.Validate(context.Background()))
	assert.True(t, doc.Prerequisite())
	n, err := doc.DesiredPodCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc = testDoc(fakeFiles{configFile: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: config\n"}, fakeClient())
	require.NoError(t, doc.Validate(context.Background()))
	assert.False(t, doc.Prerequisite())
	n, err = doc.DesiredPodCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
