package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/cluster"
	"github.com/fluxcd/deployer/pkg/config"
	"github.com/fluxcd/deployer/pkg/daemon"
	"github.com/fluxcd/deployer/pkg/execution"
	"github.com/fluxcd/deployer/pkg/git"
	daemonhttp "github.com/fluxcd/deployer/pkg/http/daemon"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/notify"
)

var version = "unversioned"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string
	var versionFlag bool

	cmd := &cobra.Command{
		Use:           "deployd",
		Short:         "deployd runs deploys of projects, by running commands or applying their manifests to Kubernetes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if versionFlag {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			return run(v, configFile)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&configFile, "config", "", fmt.Sprintf("path to the config file; defaults to %s/%s.%s", config.ConfigPath, config.ConfigName, config.ConfigType))
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")
	defineConfigFlags(fs, v, func(err error) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	})
	return cmd
}

func run(v *viper.Viper, configFile string) error {
	cfg, err := config.Load(v, configFile)

	// init go-kit log
	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		default:
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	if err != nil {
		logger.Log("err", err)
		return err
	}
	if err := cfg.IsValid(); err != nil {
		logger.Log("err", err)
		return err
	}
	logger.Log("version", version)

	redirectKlog(log.With(logger, "component", "k8s"), cfg.K8sVerbosity)

	// Clusters component.
	clusters := cluster.NewRegistry()
	for _, c := range cfg.Clusters {
		logger := log.With(logger, "component", "cluster", "cluster", c.Name)
		client, err := dynamicClient(c)
		if err != nil {
			logger.Log("err", err)
			return err
		}
		clusters.Add(c.Name, client, c.Includer())
		logger.Log("kubeconfig", c.Kubeconfig, "context", c.Context)
	}

	namespaces, err := cfg.BindNamespaces()
	if err != nil {
		logger.Log("err", err)
		return err
	}
	for _, a := range namespaces.Audits() {
		logger.Log("component", "namespaces", "record", a.Record, "action", a.Action, "changes", a.Changes)
	}

	// error channel
	errc := make(chan error)

	// shutdown triggers
	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}

	// wait for SIGTERM
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	mirrors := git.NewMirrors(filepath.Join(cfg.DataDir, "mirrors"))
	builds := build.NewMemLookup()

	d := &daemon.Daemon{
		V:        version,
		Projects: cfg.ProjectMap(),
		Mirrors:  mirrors,
		Jobs:     job.NewQueue(shutdown, shutdownWg),
		Store:    job.NewMemStore(cfg.JobHistory),
		Builds:   builds,
		Execution: execution.Config{
			Builds:        builds,
			Clusters:      clusters,
			Notifier:      notify.LogNotifier{Logger: log.With(logger, "component", "notify")},
			Logger:        log.With(logger, "component", "execution"),
			Client:        &http.Client{},
			TempDir:       cfg.TempDir,
			Timeout:       cfg.DeployTimeout,
			CancelTimeout: cfg.CancelTimeout,
			Verbose:       cfg.Verbose,
			Setup: execution.SetupTimings{
				Interval:       cfg.SetupInterval,
				TriggerTimeout: cfg.SetupTriggerTimeout,
				PollTimeout:    cfg.SetupPollTimeout,
				RequestTimeout: cfg.SetupRequestTimeout,
			},
			BuildInterval:    cfg.BuildInterval,
			BuildTimeout:     cfg.BuildTimeout,
			AutoMinAvailable: cfg.AutoMinAvailable,
			RolloutTimeout:   cfg.RolloutTimeout,
		},
		BaseURL:    cfg.BaseURL,
		Workers:    cfg.Workers,
		Logger:     log.With(logger, "component", "daemon"),
		GitTimeout: cfg.GitTimeout,
	}
	d.Execution.Store = d.Store

	d.Loop(shutdown, shutdownWg, log.With(logger, "component", "loop"))

	shutdownWg.Add(1)
	go refreshMirrors(mirrors, cfg.GitPollInterval, cfg.GitTimeout, shutdown, shutdownWg, log.With(logger, "component", "git"))

	// HTTP transport component, for the API and metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		handler := daemonhttp.NewHandler(d, daemonhttp.NewRouter(), log.With(logger, "component", "http"))
		mux.Handle("/", handler)
		logger.Log("addr", cfg.Listen)
		errc <- http.ListenAndServe(cfg.Listen, mux)
	}()

	shutdownErr := <-errc
	logger.Log("exiting", shutdownErr)
	close(shutdown)
	shutdownWg.Wait()
	d.Shutdown()
	return nil
}

// dynamicClient connects to a configured cluster; without a
// kubeconfig, to the cluster deployd is running in.
func dynamicClient(c config.Cluster) (dynamic.Interface, error) {
	var restConfig *rest.Config
	var err error
	if c.Kubeconfig == "" {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: c.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: c.Context},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building config for cluster %s: %s", c.Name, err)
	}
	return dynamic.NewForConfig(restConfig)
}

// redirectKlog makes client-go log through logger, rather than to
// stderr or files.
func redirectKlog(logger log.Logger, verbosity int) {
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	klogFlags.Set("logtostderr", "false")
	klogFlags.Set("skip_headers", "true")
	klogFlags.Set("v", strconv.Itoa(verbosity))
	klog.SetOutput(log.NewStdlibAdapter(logger))
}

func refreshMirrors(mirrors *git.Mirrors, interval, timeout time.Duration, stop <-chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, err := range mirrors.RefreshAll(timeout) {
				logger.Log("err", err)
			}
		}
	}
}
