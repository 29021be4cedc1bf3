package kubernetes

import (
	"errors"
	"fmt"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// ErrNotDeployed is returned when reverting a release document that
// has not been deployed; there's nothing to revert to.
var ErrNotDeployed = errors.New("release document has not been deployed, so cannot be reverted")

func MissingConfigFileError(path string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("release does not contain config file %q", path),
		Help: fmt.Sprintf(`The config file %q was not found at the commit being deployed

Each role has a config file in the project's repository that describes
its Kubernetes resources. Check that the file is committed and pushed,
or change the role's config file path.
`, path),
	}
}

func InvalidTemplateError(path string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("config file %q: %s", path, err),
		Help: fmt.Sprintf(`The config file %q could not be used

    %s

Check that the file is valid YAML, that each document in it is a
Kubernetes object, and that any template expressions in it are valid.
`, path, err),
	}
}

func NamespaceNotAllowedError(id, cluster string) *fluxerr.Error {
	return fluxerr.UserError("%s: namespace is not allowed in cluster %s", id, cluster)
}
