package resource

import (
	"fmt"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

func UnsupportedKindError(kind string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("deploying resource kind %q not supported", kind),
		Help: `The deployer does not support deploying ` + kind + ` resources.

Supported kinds are ServiceAccount, ClusterRole, ClusterRoleBinding,
Role, RoleBinding, ConfigMap, Service, Deployment, DaemonSet,
StatefulSet, Job, CronJob and PodDisruptionBudget. Other resources
have to be created some other way (e.g., using kubectl).
`,
	}
}
