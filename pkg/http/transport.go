package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/api/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/api/version")

	r.NewRoute().Name(Deploy).Methods("POST").Path("/api/deploys")
	r.NewRoute().Name(ListJobs).Methods("GET").Path("/api/jobs")
	r.NewRoute().Name(JobStatus).Methods("GET").Path("/api/jobs/{id}")
	r.NewRoute().Name(CancelJob).Methods("POST").Path("/api/jobs/{id}/cancel")
	r.NewRoute().Name(JobOutput).Methods("GET").Path("/api/jobs/{id}/stream")
	r.NewRoute().Name(RecordBuild).Methods("POST").Path("/api/projects/{project}/builds")

	return r
}

// MakeURL gives the URL of a named route on the server at endpoint.
// urlParams are pairs of route variable name and value.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(urlParams...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// Clients that can decode JSON errors ask for them; anyone else
	// gets the help text.
	if negotiateContentType(r, []string{"text/plain", "application/json"}) == "application/json" {
		body, encodeErr := json.Marshal(err)
		if encodeErr != nil {
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
			return
		}
		w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
		w.WriteHeader(code)
		w.Write(body)
		return
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if err, ok := err.(*fluxerr.Error); ok && err.Help != "" {
		fmt.Fprint(w, err.Help)
		return
	}
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	JSONResponseWithStatus(w, r, http.StatusOK, result)
}

func JSONResponseWithStatus(w http.ResponseWriter, r *http.Request, code int, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

// ErrorResponse writes apiError with a status code to suit its type.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *fluxerr.Error
	var code int
	var ok bool

	err := errors.Cause(apiError)
	if outErr, ok = err.(*fluxerr.Error); !ok {
		outErr = fluxerr.CoverAllError(apiError)
	}
	switch outErr.Type {
	case fluxerr.Missing:
		code = http.StatusNotFound
	case fluxerr.User:
		code = http.StatusUnprocessableEntity
	case fluxerr.Conflict, fluxerr.Cancelled:
		code = http.StatusConflict
	case fluxerr.Transient:
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, outErr)
}
