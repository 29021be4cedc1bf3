package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/http/httperror"
)

func main() {
	rootCmd := newRoot().Command()
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		printError(os.Stderr, err)
		switch err.(type) {
		case usageError:
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		}
		os.Exit(1)
	}
}

// printError explains err as well as it can be explained: the help
// that came with a deployer error, or what an unexpected HTTP
// response probably means.
func printError(w io.Writer, err error) {
	var ferr *fluxerr.Error
	if errors.As(err, &ferr) && ferr.Help != "" {
		fmt.Fprintln(w, ferr.Help)
		return
	}
	fmt.Fprintln(w, "Error: "+err.Error())
	if apiErr, ok := errors.Cause(err).(*httperror.APIError); ok {
		switch {
		case apiErr.IsUnavailable():
			fmt.Fprintln(w, "deployd is unavailable at the moment; try again later.")
		case apiErr.IsMissing():
			fmt.Fprintln(w, "deployd doesn't know this request; deployctl and deployd may be different versions.")
		}
	}
}
