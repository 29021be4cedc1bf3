package daemon

import (
	"fmt"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/job"
)

func unknownJobError(id job.ID) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("unknown job %q", string(id)),
		Help: `Job not found

Jobs are kept in memory, so a job from before the deployer last
restarted, or one of the oldest finished jobs, may have been
forgotten. If you were expecting the job to be running, it is OK to
deploy again.
`,
	}
}

func unknownProjectError(permalink string) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("unknown project %q", permalink),
		Help: `Project not found

The project ` + permalink + ` is not in the deployer's configuration.
Check the permalink given against the projects section of the config
file.
`,
	}
}

func unknownStageError(project, stage string) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("project %s has no stage %q", project, stage),
		Help: `Stage not found

The project ` + project + ` has no stage ` + stage + `. Check the
permalink given against the stages listed for the project in the
config file.
`,
	}
}
