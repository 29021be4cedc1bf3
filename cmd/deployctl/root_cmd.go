package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/deployer/pkg/api"
	transport "github.com/fluxcd/deployer/pkg/http"
	"github.com/fluxcd/deployer/pkg/http/client"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
)

const (
	EnvVariableURL = "DEPLOYER_URL"
)

// APIClient is the daemon's API, as seen from here.
type APIClient interface {
	api.Server
	Follow(ctx context.Context, id job.ID, fn func(output.Entry) error) error
}

type rootOpts struct {
	URL     string
	Timeout time.Duration
	API     APIClient
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
deployctl talks to deployd, to deploy projects and see how that went.

Workflow:
  deployctl deploy --project=example --stage=production --ref=v1.2.0 --follow  # Deploy a tag, and watch it
  deployctl jobs                                                               # What's been run?
  deployctl logs 3f1a...                                                       # Follow the output of a job
  deployctl cancel 3f1a...                                                     # Stop it
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "deployctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the deployd API server; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "timeout for requests that don't follow output")

	cmd.AddCommand(
		newVersionCommand(),
		newDeploy(opts).Command(),
		newJobs(opts).Command(),
		newStatus(opts).Command(),
		newCancel(opts).Command(),
		newLogs(opts).Command(),
		newBuild(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	// A client given already, e.g., in tests, is used as it is
	if opts.API != nil {
		return nil
	}
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), url)
	return nil
}

func (opts *rootOpts) context() (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), opts.Timeout)
}

// follow prints a job's output until it ends, then gives its final
// status.
func (opts *rootOpts) follow(cmd *cobra.Command, id job.ID) (job.View, error) {
	err := opts.API.Follow(context.Background(), id, func(e output.Entry) error {
		if e.Kind == output.Message {
			fmt.Fprint(cmd.OutOrStdout(), e.Data)
		}
		if e.Kind == output.Reloaded {
			fmt.Fprintln(cmd.OutOrStderr(), "deployd restarted before the job ran")
		}
		return nil
	})
	if err != nil {
		return job.View{}, err
	}
	ctx, cancel := opts.context()
	defer cancel()
	return opts.API.JobStatus(ctx, id)
}

// checkStatus makes an unsuccessful job an error, so the exit code
// says how it went.
func checkStatus(v job.View) error {
	if v.Status != job.StatusSucceeded {
		return fmt.Errorf("job %s %s", v.ID, v.Status)
	}
	return nil
}
