package notify

import (
	"sort"
	"sync"

	"github.com/go-kit/kit/log"
)

// Notifier is told about errors that someone should look at. It is
// best effort: notifying never fails, as far as the caller is
// concerned.
type Notifier interface {
	Notify(err error, params map[string]interface{})
}

// LogNotifier writes errors to a log.
type LogNotifier struct {
	Logger log.Logger
}

func (n LogNotifier) Notify(err error, params map[string]interface{}) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := []interface{}{"err", err}
	for _, k := range keys {
		kvs = append(kvs, k, params[k])
	}
	n.Logger.Log(kvs...)
}

// Notification is an error as it was given to a Recorder.
type Notification struct {
	Err    error
	Params map[string]interface{}
}

// Recorder keeps the errors it's told about; it's handy in tests,
// and for showing recent errors.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *Recorder) Notify(err error, params map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{Err: err, Params: params})
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Multi tells all of its notifiers.
type Multi []Notifier

func (m Multi) Notify(err error, params map[string]interface{}) {
	for _, n := range m {
		n.Notify(err, params)
	}
}
