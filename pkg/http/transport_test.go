package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

func TestWriteErrorNegotiates(t *testing.T) {
	userErr := fluxerr.UserError("no stage named %q", "qa")

	for _, c := range []struct {
		accept      string
		contentType string
	}{
		{"", "text/plain; charset=utf-8"},
		{"application/json", "application/json; charset=utf-8"},
		{"application/json;q=0, text/plain", "text/plain; charset=utf-8"},
		{"text/html", "text/plain; charset=utf-8"},
	} {
		t.Run(c.accept, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/jobs/x", nil)
			if c.accept != "" {
				r.Header.Set("Accept", c.accept)
			}
			w := httptest.NewRecorder()
			WriteError(w, r, http.StatusUnprocessableEntity, userErr)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Equal(t, c.contentType, w.Header().Get("Content-Type"))
			if c.contentType == "text/plain; charset=utf-8" {
				assert.Equal(t, userErr.Help, w.Body.String())
				return
			}
			var got struct {
				Help string `json:"help"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, userErr.Help, got.Help)
		})
	}
}
