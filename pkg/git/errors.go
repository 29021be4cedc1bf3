package git

import (
	"errors"
	"fmt"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

var ErrFileNotFound = errors.New("file not found in commit")

func CloningError(url string, actual error) error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  actual,
		Help: `Could not clone the upstream git repository

There was a problem cloning the project's git repository,

    ` + url + `

This may be because the deployer has no read access (e.g., a missing
deploy key), or because the repository has been moved, deleted, or
never existed.
`,
	}
}

func UnknownRefError(ref string) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("could not find commit for %s", ref),
		Help: `The reference ` + ref + ` could not be resolved to a commit.

Check that the branch, tag or commit exists in the upstream repository
and has been pushed.
`,
	}
}

func MissingFileError(commit, path string) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("%s: %s at %s", ErrFileNotFound, path, commit),
	}
}
