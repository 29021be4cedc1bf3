package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/build"
)

type buildOpts struct {
	*rootOpts
	project string
	build   build.Build
	status  string
}

func newBuild(parent *rootOpts) *buildOpts {
	return &buildOpts{rootOpts: parent}
}

func (opts *buildOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Tell deployd about an image built from a project.",
		Example: makeExample(
			"deployctl build -p example --name app --commit 0a1b2c3 --image registry.example.com/app@sha256:...",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "permalink of the project the image was built from")
	cmd.Flags().StringVar(&opts.build.Name, "name", "", "name of the build, e.g., the Dockerfile it was built from")
	cmd.Flags().StringVar(&opts.build.Image, "image", "", "the pushed image, pinned to its digest")
	cmd.Flags().StringVar(&opts.build.Commit, "commit", "", "commit the image was built from")
	cmd.Flags().StringVar(&opts.status, "status", string(build.StatusSucceeded), "status of the build")
	return cmd
}

func (opts *buildOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.project == "" {
		return newUsageError("--project is required")
	}
	b := opts.build
	b.Status = build.Status(opts.status)
	b.CreatedAt = time.Now().UTC()

	ctx, cancel := opts.context()
	defer cancel()
	if err := opts.API.RecordBuild(ctx, opts.project, b); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStderr(), "Recorded build %s of %s at %s\n", b.Name, opts.project, b.Commit)
	return nil
}
