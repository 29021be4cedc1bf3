package git

import (
	"fmt"
	"net/url"

	"github.com/whilp/git-urls"
)

// Remote points at a git repo somewhere.
type Remote struct {
	// URL is where we clone from
	URL string `json:"url"`
}

// SafeURL is the URL with any password removed, for logging.
func (r Remote) SafeURL() string {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return fmt.Sprintf("<unparseable: %s>", r.URL)
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// Validate checks that the URL is one git understands.
func (r Remote) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("repository URL is empty")
	}
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("repository URL %q: %s", r.URL, err)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("repository URL %q has no host", r.URL)
	}
	return nil
}
