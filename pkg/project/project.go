package project

import (
	"fmt"

	"github.com/fluxcd/deployer/pkg/git"
)

// Project is something that gets deployed: a repository, and the
// stages it can be deployed to.
type Project struct {
	Name          string `mapstructure:"name" json:"name"`
	Permalink     string `mapstructure:"permalink" json:"permalink"`
	RepositoryURL string `mapstructure:"repository" json:"repository"`
	// Name of the Kubernetes namespace the project is bound to, if
	// any. Takes precedence over a deploy group's namespace.
	Namespace string   `mapstructure:"namespace" json:"namespace,omitempty"`
	Roles     []*Role  `mapstructure:"roles" json:"roles,omitempty"`
	Stages    []*Stage `mapstructure:"stages" json:"stages"`
}

// Remote is where to get the project's source from.
func (p *Project) Remote() git.Remote {
	return git.Remote{URL: p.RepositoryURL}
}

// Validate checks the project makes enough sense to deploy.
func (p *Project) Validate() error {
	if p.Permalink == "" {
		return fmt.Errorf("project %q has no permalink", p.Name)
	}
	if err := p.Remote().Validate(); err != nil {
		return fmt.Errorf("project %s: %s", p.Permalink, err)
	}
	seen := map[string]bool{}
	for _, s := range p.Stages {
		if s.Permalink == "" {
			return fmt.Errorf("project %s: stage %q has no permalink", p.Permalink, s.Name)
		}
		if seen[s.Permalink] {
			return fmt.Errorf("project %s: duplicate stage %s", p.Permalink, s.Permalink)
		}
		seen[s.Permalink] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("project %s: %s", p.Permalink, err)
		}
		if s.Kubernetes && len(p.Roles) == 0 {
			return fmt.Errorf("project %s: stage %s deploys to kubernetes but there are no roles", p.Permalink, s.Permalink)
		}
	}
	for _, r := range p.Roles {
		if r.Name == "" || r.ConfigFile == "" {
			return fmt.Errorf("project %s: roles need a name and a config file", p.Permalink)
		}
	}
	return nil
}

// Stage finds a stage by its permalink.
func (p *Project) Stage(permalink string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.Permalink == permalink {
			return s, true
		}
	}
	return nil, false
}

// Stage is one place a project gets deployed to, e.g., staging or
// production.
type Stage struct {
	Name       string `mapstructure:"name" json:"name"`
	Permalink  string `mapstructure:"permalink" json:"permalink"`
	Production bool   `mapstructure:"production" json:"production"`
	// Deploy by applying the roles' manifests to clusters rather than
	// by running commands
	Kubernetes   bool `mapstructure:"kubernetes" json:"kubernetes"`
	FullCheckout bool `mapstructure:"full_checkout" json:"full_checkout"`
	// Make builds of the deployed commit available to commands as
	// BUILD_FROM_* variables
	BuildsInEnvironment bool           `mapstructure:"builds_in_environment" json:"builds_in_environment"`
	SetupHook           *SetupHook     `mapstructure:"external_setup_hook" json:"external_setup_hook,omitempty"`
	DeployGroups        []*DeployGroup `mapstructure:"deploy_groups" json:"deploy_groups,omitempty"`
	Commands            []string       `mapstructure:"commands" json:"commands,omitempty"`
}

func (s *Stage) validate() error {
	if s.SetupHook != nil && s.SetupHook.Endpoint == "" {
		return fmt.Errorf("stage %s: external setup hook has no endpoint", s.Permalink)
	}
	for _, dg := range s.DeployGroups {
		if dg.Permalink == "" {
			return fmt.Errorf("stage %s: deploy group %q has no permalink", s.Permalink, dg.Name)
		}
		if s.Kubernetes && dg.Cluster == "" {
			return fmt.Errorf("stage %s: deploy group %s has no cluster", s.Permalink, dg.Permalink)
		}
	}
	return nil
}

// SetupHook is an external service that has to prepare something
// (e.g., a database) before the stage can be deployed.
type SetupHook struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AuthToken string `mapstructure:"auth_token" json:"-"`
}

// DeployGroup is a group of hosts or a cluster that a stage deploys to.
type DeployGroup struct {
	Name      string `mapstructure:"name" json:"name"`
	Permalink string `mapstructure:"permalink" json:"permalink"`
	EnvValue  string `mapstructure:"env_value" json:"env_value"`
	// Namespace used for resources that don't name one, when the
	// project isn't bound to a namespace.
	Namespace string `mapstructure:"namespace" json:"namespace"`
	Cluster   string `mapstructure:"cluster" json:"cluster"`
}

// User is whoever asked for a job to be run.
type User struct {
	Name  string `mapstructure:"name" json:"name"`
	Email string `mapstructure:"email" json:"email"`
}
