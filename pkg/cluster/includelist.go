package cluster

import (
	"github.com/ryanuber/go-glob"
)

// Includer decides whether a namespace may be deployed to.
type Includer interface {
	IsIncluded(namespace string) bool
}

type IncluderFunc func(string) bool

func (f IncluderFunc) IsIncluded(s string) bool {
	return f(s)
}

var AlwaysInclude = IncluderFunc(func(string) bool { return true })

// NamespaceGlobs is an Includer that uses glob patterns to decide
// which namespaces are allowed. Denied patterns win over allowed
// ones; see IsIncluded.
type NamespaceGlobs struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// IsIncluded implements Includer using the logic:
//  - if the namespace matches any deny pattern, it's not allowed
//  - otherwise, if there are no allow patterns, it's allowed
//  - otherwise, it's allowed only if it matches an allow pattern.
func (g NamespaceGlobs) IsIncluded(namespace string) bool {
	for _, deny := range g.Deny {
		if glob.Glob(deny, namespace) {
			return false
		}
	}
	if len(g.Allow) == 0 {
		return true
	}
	for _, allow := range g.Allow {
		if glob.Glob(allow, namespace) {
			return true
		}
	}
	return false
}
