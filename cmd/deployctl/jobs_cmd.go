package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type jobsOpts struct {
	*rootOpts
}

func newJobs(parent *rootOpts) *jobsOpts {
	return &jobsOpts{rootOpts: parent}
}

func (opts *jobsOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the jobs deployd knows about, newest first.",
		RunE:  opts.RunE,
	}
}

func (opts *jobsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	ctx, cancel := opts.context()
	defer cancel()
	views, err := opts.API.ListJobs(ctx)
	if err != nil {
		return err
	}

	out := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(out, "ID\tPROJECT\tSTAGE\tREF\tSTATUS\tCREATED")
	for _, v := range views {
		stage := v.Stage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Project, stage, v.Reference, v.Status, v.CreatedAt.Format(time.RFC3339))
	}
	return out.Flush()
}
