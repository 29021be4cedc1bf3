package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/fluxcd/deployer/pkg/api"
	"github.com/fluxcd/deployer/pkg/build"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	transport "github.com/fluxcd/deployer/pkg/http"
	"github.com/fluxcd/deployer/pkg/http/httperror"
	"github.com/fluxcd/deployer/pkg/http/websocket"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
)

const userAgent = "deployer-client"

type Client struct {
	client   *http.Client
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string) *Client {
	return &Client{
		client:   c,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) Deploy(ctx context.Context, req api.DeployRequest) (job.View, error) {
	var res job.View
	err := c.methodWithResp(ctx, "POST", &res, transport.Deploy, req)
	return res, err
}

func (c *Client) JobStatus(ctx context.Context, id job.ID) (job.View, error) {
	var res job.View
	err := c.Get(ctx, &res, transport.JobStatus, "id", string(id))
	return res, err
}

func (c *Client) ListJobs(ctx context.Context) ([]job.View, error) {
	var res []job.View
	err := c.Get(ctx, &res, transport.ListJobs)
	return res, err
}

func (c *Client) CancelJob(ctx context.Context, id job.ID) error {
	return c.methodWithResp(ctx, "POST", nil, transport.CancelJob, nil, "id", string(id))
}

func (c *Client) RecordBuild(ctx context.Context, project string, b build.Build) error {
	return c.methodWithResp(ctx, "POST", nil, transport.RecordBuild, b, "project", project)
}

// Follow gives each entry of a job's output to fn, from the start,
// until the output is closed.
func (c *Client) Follow(ctx context.Context, id job.ID, fn func(output.Entry) error) error {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.JobOutput, "id", string(id))
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, err := websocket.Dial(c.client, userAgent, u)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	if err := websocket.Follow(conn, fn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// methodWithResp sends body, if not nil, as JSON, and decodes the
// response into dest, if there's a response and dest is not nil.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, urlParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, urlParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	if len(respBytes) <= 0 || dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// Get executes a get request against the deployer. It unmarshals the
// response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, urlParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, urlParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body of error")
	}
	// Use the content type to discriminate between our own errors,
	// and whatever else might be in the way
	if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
		var niceError fluxerr.Error
		if err := json.Unmarshal(body, &niceError); err != nil {
			return nil, errors.Wrap(err, "decoding response body of error")
		}
		// just in case it's JSON but not one of our own errors
		if niceError.Err != nil {
			return nil, &niceError
		}
	}
	return nil, &httperror.APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
