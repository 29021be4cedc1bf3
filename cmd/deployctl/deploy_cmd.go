package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/api"
	"github.com/fluxcd/deployer/pkg/project"
)

type deployOpts struct {
	*rootOpts
	project string
	stage   string
	ref     string
	user    project.User
	watch   bool
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a git reference of a project to one of its stages.",
		Example: makeExample(
			"deployctl deploy --project=example --stage=staging --ref=master",
			"deployctl deploy -p example -s production -r v1.2.0 --follow",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "permalink of the project to deploy")
	cmd.Flags().StringVarP(&opts.stage, "stage", "s", "", "permalink of the stage to deploy to")
	cmd.Flags().StringVarP(&opts.ref, "ref", "r", "", "git reference to deploy, e.g., a branch, tag or commit")
	cmd.Flags().StringVar(&opts.user.Name, "user", "", "name to record as the deployer")
	cmd.Flags().StringVar(&opts.user.Email, "email", "", "email address to record as the deployer")
	cmd.Flags().BoolVarP(&opts.watch, "follow", "f", false, "print the job's output until it finishes")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	switch {
	case opts.project == "":
		return newUsageError("--project is required")
	case opts.stage == "":
		return newUsageError("--stage is required")
	case opts.ref == "":
		return newUsageError("--ref is required")
	}

	ctx, cancel := opts.context()
	defer cancel()
	v, err := opts.API.Deploy(ctx, api.DeployRequest{
		Project:   opts.project,
		Stage:     opts.stage,
		Reference: opts.ref,
		User:      opts.user,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStderr(), "Job ID %s\n", string(v.ID))
	if v.URL != "" {
		fmt.Fprintf(cmd.OutOrStderr(), "Deploy URL %s\n", v.URL)
	}
	if !opts.watch {
		return nil
	}

	final, err := opts.follow(cmd, v.ID)
	if err != nil {
		return err
	}
	return checkStatus(final)
}

func makeExample(examples ...string) string {
	var buf []byte
	for _, e := range examples {
		buf = append(buf, "  "...)
		buf = append(buf, e...)
		buf = append(buf, '\n')
	}
	return string(buf)
}
