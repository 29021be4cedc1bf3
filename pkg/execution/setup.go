package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
	"github.com/fluxcd/deployer/pkg/project"
)

// SetupTimings control how long to wait for an external setup hook.
type SetupTimings struct {
	// Between attempts to trigger the setup, and between polls
	Interval time.Duration `mapstructure:"interval"`
	// Budget for getting the hook to start the setup
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
	// Budget for the setup to finish, once started
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	// For each request
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

const (
	DefaultSetupInterval       = 5 * time.Second
	DefaultSetupTriggerTimeout = 30 * time.Second
	DefaultSetupPollTimeout    = 30 * time.Second
	DefaultSetupRequestTimeout = time.Second
)

func (t SetupTimings) withDefaults() SetupTimings {
	if t.Interval <= 0 {
		t.Interval = DefaultSetupInterval
	}
	if t.TriggerTimeout <= 0 {
		t.TriggerTimeout = DefaultSetupTriggerTimeout
	}
	if t.PollTimeout <= 0 {
		t.PollTimeout = DefaultSetupPollTimeout
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultSetupRequestTimeout
	}
	return t
}

// waitForExternalSetup asks the stage's setup hook, if it has one, to
// prepare for the deploy, then waits for it to say it's done. The
// hook answers a trigger with a URL to poll; polling that URL
// eventually gives `{"status": "success"}`.
func (e *Execution) waitForExternalSetup(ctx context.Context) (err error) {
	stage := e.Job.Stage()
	if stage == nil || stage.SetupHook == nil {
		return nil
	}
	defer func(begin time.Time) {
		setupHookDuration.With(
			fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	hook := stage.SetupHook
	payload, err := json.Marshal(e.stageEnv())
	if err != nil {
		return err
	}
	e.Out.Printf("Trigger external setup through %s with payload %s\n", hook.Endpoint, payload)

	pollURL, err := e.triggerSetup(ctx, hook, payload)
	if err != nil {
		return err
	}
	if err := e.pollSetup(ctx, pollURL); err != nil {
		return err
	}
	e.Out.Puts("External setup finished")
	return nil
}

func (e *Execution) triggerSetup(ctx context.Context, hook *project.SetupHook, payload []byte) (string, error) {
	var pollURL string
	err := e.pollFor(ctx, e.config.Setup.TriggerTimeout, func(ctx context.Context) bool {
		req, err := http.NewRequest(http.MethodPost, hook.Endpoint, bytes.NewReader(payload))
		if err != nil {
			e.logger.Log("endpoint", hook.Endpoint, "err", err)
			return false
		}
		req.Header.Set("Authorization", "token "+hook.AuthToken)
		req.Header.Set("Content-Type", "application/json")
		var reply struct {
			StatusPollURL string `json:"status_poll_url"`
		}
		if e.request(ctx, req, &reply) && reply.StatusPollURL != "" {
			pollURL = reply.StatusPollURL
			return true
		}
		return false
	})
	if err != nil && !fluxerr.IsCancelled(err) {
		return "", fluxerr.TransientError(fmt.Errorf("external setup failed: %s did not start the setup within %s", hook.Endpoint, e.config.Setup.TriggerTimeout))
	}
	return pollURL, err
}

func (e *Execution) pollSetup(ctx context.Context, pollURL string) error {
	err := e.pollFor(ctx, e.config.Setup.PollTimeout, func(ctx context.Context) bool {
		req, err := http.NewRequest(http.MethodGet, pollURL, nil)
		if err != nil {
			e.logger.Log("url", pollURL, "err", err)
			return false
		}
		var reply struct {
			Status string `json:"status"`
		}
		return e.request(ctx, req, &reply) && reply.Status == "success"
	})
	if err != nil && !fluxerr.IsCancelled(err) {
		return fluxerr.TransientError(fmt.Errorf("external setup failed: %s did not report success within %s", pollURL, e.config.Setup.PollTimeout))
	}
	return err
}

// pollFor calls try every interval until it returns true, or the
// budget runs out.
func (e *Execution) pollFor(ctx context.Context, budget time.Duration, try func(context.Context) bool) error {
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	err := wait.PollImmediateUntil(e.config.Setup.Interval, func() (bool, error) {
		return try(pollCtx), nil
	}, pollCtx.Done())
	if err == wait.ErrWaitTimeout && ctx.Err() != nil {
		return fluxerr.ErrCancelled
	}
	return err
}

// request sends req, with its own timeout, and decodes a JSON reply
// into v. Anything but a 200 with a JSON body is a miss.
func (e *Execution) request(ctx context.Context, req *http.Request, v interface{}) bool {
	ctx, cancel := context.WithTimeout(ctx, e.config.Setup.RequestTimeout)
	defer cancel()
	resp, err := e.config.Client.Do(req.WithContext(ctx))
	if err != nil {
		e.logger.Log("url", req.URL.String(), "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(v) == nil
}
