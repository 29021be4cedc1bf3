package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/deployer/pkg/config"
)

// defineConfigFlags defines the flags that can also be set in
// a config file. These need special treatment, because some care must
// be taken to match them ("bind") with config file field names.
func defineConfigFlags(fs *pflag.FlagSet, v *viper.Viper, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(field.Tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		return v.BindPFlag(mappedName, fs.Lookup(flagName))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", "fmt", "change the log format.")
	defineStringP("Listen", "listen", "l", config.DefaultListen, "listen address where /metrics and API will be served")
	defineString("BaseURL", "base-url", "", "URL deploys are linked from, e.g., https://deployer.example.com")
	defineString("DataDir", "data-dir", "/var/lib/deployer", "directory git mirrors are kept in")
	defineString("TempDir", "temp-dir", "", "directory job working trees are made in; defaults to the system's temporary directory")
	defineInt("Workers", "workers", config.DefaultWorkers, "number of jobs run at once")
	defineInt("JobHistory", "job-history", config.DefaultJobHistory, "number of finished jobs kept, with their output")
	defineBool("Verbose", "verbose", false, "show the commands run for jobs in their output")

	// git
	defineDuration("GitTimeout", "git-timeout", config.DefaultGitTimeout, "duration after which git operations time out")
	defineDuration("GitPollInterval", "git-poll-interval", config.DefaultGitPollInterval, "period at which git mirrors are fetched")

	// jobs
	defineDuration("DeployTimeout", "deploy-timeout", config.DefaultDeployTimeout, "duration after which a running job is stopped")
	defineDuration("CancelTimeout", "cancel-timeout", config.DefaultCancelTimeout, "duration a cancelled command gets to stop before it is killed")

	// external setup hooks
	defineDuration("SetupInterval", "setup-interval", config.DefaultSetupInterval, "period at which external setup hooks are polled")
	defineDuration("SetupTriggerTimeout", "setup-trigger-timeout", config.DefaultSetupTriggerTimeout, "duration after which starting an external setup is given up")
	defineDuration("SetupPollTimeout", "setup-poll-timeout", config.DefaultSetupPollTimeout, "duration after which waiting for an external setup to succeed is given up")
	defineDuration("SetupRequestTimeout", "setup-request-timeout", config.DefaultSetupRequestTimeout, "maximum time to wait for each request to an external setup hook")

	// builds
	defineDuration("BuildInterval", "build-interval", config.DefaultBuildInterval, "period at which pending builds are looked up")
	defineDuration("BuildTimeout", "build-timeout", config.DefaultBuildTimeout, "duration after which waiting for builds is given up")

	// kubernetes
	defineString("AutoMinAvailable", "k8s-auto-min-available", "", `disruption budget for roles that don't set one, e.g., "30%"; empty means none`)
	defineDuration("RolloutTimeout", "k8s-rollout-timeout", config.DefaultRolloutTimeout, "duration after which a rollout that isn't ready is reverted")
	defineInt("K8sVerbosity", "k8s-verbosity", 0, "klog verbosity level")
}
