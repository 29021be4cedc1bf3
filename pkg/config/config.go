// config is the package containing configuration for the deployer,
// shared so the daemon and its tests read it the same way.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fluxcd/deployer/pkg/cluster"
	"github.com/fluxcd/deployer/pkg/cluster/kubernetes"
	"github.com/fluxcd/deployer/pkg/project"
)

const (
	ConfigPath            = "/etc/deployer"
	ConfigName            = "deployer"
	ConfigType            = "yaml"
	DeployerConfigVersion = "v1"
)

const (
	DefaultListen          = ":3030"
	DefaultWorkers         = 2
	DefaultJobHistory      = 500
	DefaultGitTimeout      = 20 * time.Second
	DefaultGitPollInterval = 5 * time.Minute
	DefaultDeployTimeout   = 2 * time.Hour
	DefaultCancelTimeout   = 15 * time.Second
	DefaultRolloutTimeout  = 10 * time.Minute

	DefaultSetupInterval       = 5 * time.Second
	DefaultSetupTriggerTimeout = 30 * time.Second
	DefaultSetupPollTimeout    = 30 * time.Second
	DefaultSetupRequestTimeout = time.Second

	DefaultBuildInterval = 5 * time.Second
	DefaultBuildTimeout  = 20 * time.Minute
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to
	// DeployerConfigVersion above, it is considered an invalid
	// configuration.
	ConfigVersion string `mapstructure:"deployerConfigVersion"`

	LogFormat string `mapstructure:"logFormat"`
	Listen    string `mapstructure:"listen"`
	// Where people see deploys, e.g., https://deployer.example.com
	BaseURL string `mapstructure:"baseUrl"`
	// Git mirrors live under here
	DataDir string `mapstructure:"dataDir"`
	// Working directories for jobs go here; empty means the system's
	TempDir    string `mapstructure:"tempDir"`
	Workers    int    `mapstructure:"workers"`
	JobHistory int    `mapstructure:"jobHistory"`

	GitTimeout time.Duration `mapstructure:"gitTimeout"`
	// Mirrors are fetched this often, so deploys start from a warm
	// mirror
	GitPollInterval time.Duration `mapstructure:"gitPollInterval"`
	DeployTimeout   time.Duration `mapstructure:"deployTimeout"`
	CancelTimeout   time.Duration `mapstructure:"cancelTimeout"`
	Verbose         bool          `mapstructure:"verbose"`

	SetupInterval       time.Duration `mapstructure:"setupInterval"`
	SetupTriggerTimeout time.Duration `mapstructure:"setupTriggerTimeout"`
	SetupPollTimeout    time.Duration `mapstructure:"setupPollTimeout"`
	SetupRequestTimeout time.Duration `mapstructure:"setupRequestTimeout"`

	BuildInterval time.Duration `mapstructure:"buildInterval"`
	BuildTimeout  time.Duration `mapstructure:"buildTimeout"`

	// Disruption budget for roles whose config doesn't say, e.g.,
	// "30%"; empty means none
	AutoMinAvailable string        `mapstructure:"autoMinAvailable"`
	RolloutTimeout   time.Duration `mapstructure:"rolloutTimeout"`
	K8sVerbosity     int           `mapstructure:"k8sVerbosity"`

	Clusters   []Cluster          `mapstructure:"clusters"`
	Projects   []*project.Project `mapstructure:"projects"`
	Namespaces []Namespace        `mapstructure:"namespaces"`
}

// Cluster says how to reach a cluster, and where in it deploys may
// go.
type Cluster struct {
	Name string `mapstructure:"name"`
	// Empty means the in-cluster config
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
	// Globs; see cluster.NamespaceGlobs
	AllowNamespaces []string `mapstructure:"allowNamespaces"`
	DenyNamespaces  []string `mapstructure:"denyNamespaces"`
}

// Includer is the cluster's namespace restrictions.
func (c Cluster) Includer() cluster.Includer {
	if len(c.AllowNamespaces) == 0 && len(c.DenyNamespaces) == 0 {
		return cluster.AlwaysInclude
	}
	return cluster.NamespaceGlobs{Allow: c.AllowNamespaces, Deny: c.DenyNamespaces}
}

// Namespace is a namespace and the projects bound to it.
type Namespace struct {
	kubernetes.Namespace `mapstructure:",squash"`
	Projects             []string `mapstructure:"projects"`
}

// Defaults is a Config with everything that has a default set to it.
func Defaults() Config {
	return Config{
		LogFormat:           "fmt",
		Listen:              DefaultListen,
		Workers:             DefaultWorkers,
		JobHistory:          DefaultJobHistory,
		GitTimeout:          DefaultGitTimeout,
		GitPollInterval:     DefaultGitPollInterval,
		DeployTimeout:       DefaultDeployTimeout,
		CancelTimeout:       DefaultCancelTimeout,
		SetupInterval:       DefaultSetupInterval,
		SetupTriggerTimeout: DefaultSetupTriggerTimeout,
		SetupPollTimeout:    DefaultSetupPollTimeout,
		SetupRequestTimeout: DefaultSetupRequestTimeout,
		BuildInterval:       DefaultBuildInterval,
		BuildTimeout:        DefaultBuildTimeout,
		RolloutTimeout:      DefaultRolloutTimeout,
	}
}

// Load reads the config file at path over the defaults, along with
// anything else v has been told, e.g., flags bound to it.
func Load(v *viper.Viper, path string) (Config, error) {
	c := Defaults()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(ConfigPath)
	}
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("reading config: %s", err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %s", err)
	}
	return c, nil
}

func (c Config) IsValid() error {
	if c.ConfigVersion != DeployerConfigVersion {
		return fmt.Errorf("config file is expected to include `deployerConfigVersion: %s` to mark it as a deployer config", DeployerConfigVersion)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	clusters := map[string]bool{}
	for _, cl := range c.Clusters {
		if cl.Name == "" {
			return fmt.Errorf("clusters need a name")
		}
		if clusters[cl.Name] {
			return fmt.Errorf("duplicate cluster %s", cl.Name)
		}
		clusters[cl.Name] = true
	}

	projects := map[string]bool{}
	for _, p := range c.Projects {
		if err := p.Validate(); err != nil {
			return err
		}
		if projects[p.Permalink] {
			return fmt.Errorf("duplicate project %s", p.Permalink)
		}
		projects[p.Permalink] = true
		for _, s := range p.Stages {
			if !s.Kubernetes {
				continue
			}
			for _, dg := range s.DeployGroups {
				if !clusters[dg.Cluster] {
					return fmt.Errorf("project %s: stage %s: deploy group %s deploys to unknown cluster %q", p.Permalink, s.Permalink, dg.Permalink, dg.Cluster)
				}
			}
		}
	}

	for _, n := range c.Namespaces {
		if err := n.Validate(); err != nil {
			return err
		}
		for _, permalink := range n.Projects {
			if !projects[permalink] {
				return fmt.Errorf("namespace %s: unknown project %q", n.Name, permalink)
			}
		}
	}
	return nil
}

// ProjectMap indexes the projects by permalink.
func (c Config) ProjectMap() map[string]*project.Project {
	m := make(map[string]*project.Project, len(c.Projects))
	for _, p := range c.Projects {
		m[p.Permalink] = p
	}
	return m
}

// BindNamespaces creates the configured namespaces, binding their
// projects to them.
func (c Config) BindNamespaces() (*kubernetes.Namespaces, error) {
	namespaces := kubernetes.NewNamespaces(c.Projects)
	for i := range c.Namespaces {
		n := c.Namespaces[i].Namespace
		if err := namespaces.Create(&n, c.Namespaces[i].Projects...); err != nil {
			return nil, err
		}
	}
	return namespaces, nil
}
