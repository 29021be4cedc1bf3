package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/job"
)

type cancelOpts struct {
	*rootOpts
}

func newCancel(parent *rootOpts) *cancelOpts {
	return &cancelOpts{rootOpts: parent}
}

func (opts *cancelOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Stop a job; if it's running, what it deployed is reverted.",
		RunE:  opts.RunE,
	}
}

func (opts *cancelOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedJobID
	}
	ctx, cancel := opts.context()
	defer cancel()
	if err := opts.API.CancelJob(ctx, job.ID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStderr(), "Cancelling job %s\n", args[0])
	return nil
}
