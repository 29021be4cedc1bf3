package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/job"
)

type statusOpts struct {
	*rootOpts
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show how a job is getting on.",
		RunE:  opts.RunE,
	}
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedJobID
	}
	ctx, cancel := opts.context()
	defer cancel()
	v, err := opts.API.JobStatus(ctx, job.ID(args[0]))
	if err != nil {
		return err
	}

	out := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintf(out, "Job:\t%s\n", v.ID)
	fmt.Fprintf(out, "Project:\t%s\n", v.Project)
	if v.Stage != "" {
		fmt.Fprintf(out, "Stage:\t%s\n", v.Stage)
	}
	fmt.Fprintf(out, "Reference:\t%s\n", v.Reference)
	if v.Commit != "" {
		fmt.Fprintf(out, "Commit:\t%s\n", v.Commit)
	}
	fmt.Fprintf(out, "Status:\t%s\n", v.Status)
	if v.Position > 0 {
		fmt.Fprintf(out, "Queued:\t#%d\n", v.Position)
	}
	if v.URL != "" {
		fmt.Fprintf(out, "URL:\t%s\n", v.URL)
	}
	return out.Flush()
}
