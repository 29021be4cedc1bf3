package resource

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	jsonyaml "github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// ParseMultidoc takes a dump of config (a multidoc YAML) and
// constructs the list of manifests represented therein, in the order
// they appear.
func ParseMultidoc(multidoc []byte, source string) ([]*Manifest, error) {
	var objs []*Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(multidoc))
	var err error
	for i := 0; ; i++ {
		// In order to use the decoder to extract raw documents
		// from the stream, we decode generically and encode again.
		var val interface{}
		if err = decoder.Decode(&val); err != nil {
			break
		}
		if val == nil {
			// an empty document, e.g., only a comment
			continue
		}
		if _, ok := val.(map[interface{}]interface{}); !ok {
			return nil, makeUnmarshalObjectErr(source, fmt.Errorf("document %d is not a mapping", i+1))
		}
		bytes, err := yaml.Marshal(val)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing YAML doc from %q", source)
		}

		obj, err := unmarshalObject(source, bytes)
		if err != nil {
			return nil, makeUnmarshalObjectErr(source, errors.Wrapf(err, "document %d", i+1))
		}
		// Lists must be treated specially, since it's the
		// contained resources we are after.
		if obj.IsList() {
			list, err := obj.ToList()
			if err != nil {
				return nil, makeUnmarshalObjectErr(source, err)
			}
			for _, item := range list.Items {
				objs = append(objs, &Manifest{Unstructured: item, source: source})
			}
			continue
		}
		objs = append(objs, obj)
	}

	if err != io.EOF {
		return objs, makeUnmarshalObjectErr(source, errors.Wrap(err, "scanning multidoc"))
	}
	return objs, nil
}

func unmarshalObject(source string, bytes []byte) (*Manifest, error) {
	// NB: go through JSON so that maps are keyed by strings, and
	// numbers are int64 or float64, which is what the
	// unstructured helpers expect.
	js, err := jsonyaml.YAMLToJSON(bytes)
	if err != nil {
		return nil, err
	}
	m := &Manifest{source: source}
	if err := m.UnmarshalJSON(js); err != nil {
		return nil, err
	}
	if m.GetKind() == "" || m.GetAPIVersion() == "" {
		return nil, errors.New("missing kind or apiVersion")
	}
	if !m.IsList() && m.GetName() == "" && m.GetGenerateName() == "" {
		return nil, fmt.Errorf("%s has no metadata.name", m.GetKind())
	}
	return m, nil
}

func makeUnmarshalObjectErr(source string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  errors.Wrapf(err, "parsing %s", source),
		Help: `Could not parse "` + source + `": ` + strings.TrimSpace(err.Error()) + `

This likely means it is malformed YAML, or has documents that are not
Kubernetes objects.
`,
	}
}
