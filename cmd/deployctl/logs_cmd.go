package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/job"
)

type logsOpts struct {
	*rootOpts
}

func newLogs(parent *rootOpts) *logsOpts {
	return &logsOpts{rootOpts: parent}
}

func (opts *logsOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "Print the output of a job, following it until the job finishes.",
		RunE:  opts.RunE,
	}
}

func (opts *logsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedJobID
	}
	final, err := opts.follow(cmd, job.ID(args[0]))
	if err != nil {
		return err
	}
	return checkStatus(final)
}
