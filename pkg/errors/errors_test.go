package errors

import (
	"encoding/json"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTypeOfThroughWrapping(t *testing.T) {
	for _, c := range []struct {
		name string
		err  error
		want Type
	}{
		{"plain error", errors.New("boom"), Server},
		{"user", UserError("no config file %q", "kubernetes/app.yml"), User},
		{"wrapped conflict", pkgerrors.Wrap(ConflictError(errors.New("409")), "deploying"), Conflict},
		{"wrapped twice", pkgerrors.Wrap(pkgerrors.Wrap(TransientError(errors.New("timeout")), "a"), "b"), Transient},
		{"cancelled", pkgerrors.Wrap(ErrCancelled, "executing"), Cancelled},
	} {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, TypeOf(c.err))
		})
	}
}

func TestPredicatesIgnoreNil(t *testing.T) {
	assert.False(t, IsUser(nil))
	assert.False(t, IsCancelled(nil))
	assert.False(t, IsConflict(nil))
	assert.False(t, IsMissing(nil))
}

func TestUserErrorCarriesHelp(t *testing.T) {
	err := UserError("missing %s", "role")
	assert.Equal(t, "missing role", err.Help)
	assert.Equal(t, "missing role", err.Error())
}

func TestErrorJSONRoundTrip(t *testing.T) {
	in := &Error{Type: Conflict, Help: "rolled back", Err: errors.New("field is immutable")}
	bytes, err := json.Marshal(in)
	assert.NoError(t, err)

	var out Error
	assert.NoError(t, json.Unmarshal(bytes, &out))
	assert.Equal(t, Conflict, out.Type)
	assert.Equal(t, "rolled back", out.Help)
	assert.Equal(t, "field is immutable", out.Err.Error())
}
