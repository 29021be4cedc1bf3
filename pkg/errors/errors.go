package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Representation of errors raised while running a job. These are
// divided into a small number of categories, essentially
// distinguished by whose fault the error is and what should happen
// next; i.e., is this error:
//  - a problem with the user's configuration or templates, to be shown to them?
//  - a transient problem talking to something external, worth trying again?
//  - the cluster refusing a change, so the release should be rolled back?
//  - someone asking for the job to stop?
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	Server Type = "server"
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing Type = "missing"
	// The operation was well-formed, but the configuration or
	// templates supplied can't work as they are
	User Type = "user"
	// Something external (a setup hook, a build lookup) didn't
	// answer in time
	Transient Type = "transient"
	// The cluster rejected a create or update
	Conflict Type = "conflict"
	// The job was asked to stop
	Cancelled Type = "cancelled"
)

// ErrCancelled is returned from operations that noticed a
// cancellation request.
var ErrCancelled = &Error{
	Type: Cancelled,
	Err:  errors.New("job was cancelled"),
}

func UserError(format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Type: User, Err: errors.New(msg), Help: msg}
}

func TransientError(err error) *Error {
	return &Error{Type: Transient, Err: err}
}

func ConflictError(err error) *Error {
	return &Error{Type: Conflict, Err: err}
}

func MissingError(err error) *Error {
	return &Error{Type: Missing, Err: err}
}

// TypeOf returns the category of the first *Error in err's chain,
// or Server if there is none.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return Server
}

func IsMissing(err error) bool {
	return err != nil && TypeOf(err) == Missing
}

func IsUser(err error) bool {
	return err != nil && TypeOf(err) == User
}

func IsTransient(err error) bool {
	return err != nil && TypeOf(err) == Transient
}

func IsConflict(err error) bool {
	return err != nil && TypeOf(err) == Conflict
}

func IsCancelled(err error) bool {
	return err != nil && TypeOf(err) == Cancelled
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.

It would help us remedy this if you log an issue at

    https://github.com/fluxcd/deployer/issues

saying what you were doing when you saw this, and quoting the message
at the top.
`,
	}
}
