package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks which of the offered content types to
// respond with, given the request's Accept header. Offers come in
// order of preference, which breaks ties in quality (`q`). Types the
// client gives a quality of zero are refused. With no Accept header,
// the first offer wins; when nothing offered is acceptable, the
// result is "".
func negotiateContentType(r *http.Request, offers []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offers[0]
	}

	var acceptable []header.AcceptSpec
	for _, spec := range specs {
		if spec.Q > 0 && indexOf(offers, spec.Value) < len(offers) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.Stable(byQuality{acceptable, offers})
	return acceptable[0].Value
}

type byQuality struct {
	specs  []header.AcceptSpec
	offers []string
}

func (s byQuality) Len() int { return len(s.specs) }

func (s byQuality) Less(i, j int) bool {
	if s.specs[i].Q == s.specs[j].Q {
		return indexOf(s.offers, s.specs[i].Value) < indexOf(s.offers, s.specs[j].Value)
	}
	return s.specs[i].Q > s.specs[j].Q
}

func (s byQuality) Swap(i, j int) { s.specs[i], s.specs[j] = s.specs[j], s.specs[i] }

// indexOf gives len(ss) when search isn't there, so that absent
// values sort last.
func indexOf(ss []string, search string) int {
	for i, s := range ss {
		if s == search {
			return i
		}
	}
	return len(ss)
}
