package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateContentType(t *testing.T) {
	offers := []string{"text/plain", "application/json"}
	for _, c := range []struct {
		name   string
		accept []string
		want   string
	}{
		{"no accept header", nil, "text/plain"},
		{"only json", []string{"application/json"}, "application/json"},
		{"equal quality goes to first offer", []string{"application/json,text/plain"}, "text/plain"},
		{"quality beats preference", []string{"text/plain;q=0.5,application/json;q=1.0"}, "application/json"},
		{"nothing offered", []string{"text/html;q=0.9", "image/png"}, ""},
		{"refused with zero quality", []string{"application/json;q=0, text/plain"}, "text/plain"},
		{"everything offered refused", []string{"application/json;q=0"}, ""},
	} {
		t.Run(c.name, func(t *testing.T) {
			h := http.Header{}
			for _, a := range c.accept {
				h.Add("Accept", a)
			}
			assert.Equal(t, c.want, negotiateContentType(&http.Request{Header: h}, offers))
		})
	}
}
