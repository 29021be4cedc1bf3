package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/deployer/pkg/errors"
)

func TestParseEmpty(t *testing.T) {
	doc := ``

	objs, err := ParseMultidoc([]byte(doc), "test")
	if err != nil {
		t.Error(err)
	}
	if len(objs) != 0 {
		t.Errorf("expected empty set; got %#v", objs)
	}
}

func TestParseKeepsOrder(t *testing.T) {
	docs := `# some random comment
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: b-deployment
  namespace: b-namespace
spec:
  replicas: 3
---
---
apiVersion: v1
kind: Service
metadata:
  name: a-service
`
	objs, err := ParseMultidoc([]byte(docs), "test")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "b-namespace:Deployment/b-deployment", objs[0].ID())
	assert.Equal(t, "<cluster>:Service/a-service", objs[1].ID())
	assert.Equal(t, "test", objs[0].Source())
	// numbers come out as int64, which is what unstructured wants
	assert.Equal(t, int64(3), objs[0].Replicas())
}

func TestParseList(t *testing.T) {
	doc := `---
apiVersion: v1
kind: List
items:
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: one
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: two
`
	objs, err := ParseMultidoc([]byte(doc), "test")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "one", objs[0].GetName())
	assert.Equal(t, "two", objs[1].GetName())
}

func TestParseErrorsAreUserErrors(t *testing.T) {
	for _, c := range []struct {
		name string
		doc  string
	}{
		{"not a mapping", "---\ntrue\n"},
		{"a list", "---\n- a\n- b\n"},
		{"no kind", "---\nfoo: bar\n"},
		{"no name", "---\napiVersion: v1\nkind: ConfigMap\nmetadata: {}\n"},
		{"malformed", "---\nkind: [\n"},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseMultidoc([]byte(c.doc), "kubernetes/app.yml")
			assert.Error(t, err)
			assert.True(t, errors.IsUser(err), "%v", err)
		})
	}
}

func TestMapContainers(t *testing.T) {
	objs, err := ParseMultidoc([]byte(`---
apiVersion: batch/v1beta1
kind: CronJob
metadata:
  name: cron
spec:
  jobTemplate:
    spec:
      template:
        spec:
          initContainers:
          - name: init
            image: busybox
          containers:
          - name: app
            image: app:latest
            env:
            - name: TAG
              value: old
`), "test")
	require.NoError(t, err)
	m := objs[0]

	var images []string
	require.NoError(t, m.MapContainers(func(c map[string]interface{}) error {
		images = append(images, c["image"].(string))
		return SetContainerEnv(c, "TAG", "v1")
	}))
	assert.Equal(t, []string{"app:latest", "busybox"}, images)

	require.NoError(t, m.MapContainers(func(c map[string]interface{}) error {
		env := c["env"].([]interface{})
		assert.Len(t, env, 1)
		assert.Equal(t, "v1", env[0].(map[string]interface{})["value"])
		return nil
	}))
}
