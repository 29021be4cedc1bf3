package kubernetes

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
)

// TemplateVars are what a role's config file can refer to, e.g.,
// `{{ .DeployGroup }}`.
type TemplateVars struct {
	Project     string
	Role        string
	DeployGroup string
	Namespace   string
	Revision    string
	Tag         string
	Replicas    int
}

// renderTemplate expands template expressions in a config file, with
// the sprig functions available.
func renderTemplate(name string, raw []byte, vars TemplateVars) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
