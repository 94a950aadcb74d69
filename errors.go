package mapmaster

import "errors"

var (
	// ErrConfiguration is fatal: the engine cannot produce any result until
	// the configuration is fixed.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownProfile is returned when a profile identifier cannot be resolved.
	ErrUnknownProfile = &wrapped{msg: "unknown profile", parent: ErrConfiguration}

	// ErrMalformedRules is returned when a rule table cannot be loaded.
	ErrMalformedRules = &wrapped{msg: "malformed rule table", parent: ErrConfiguration}

	// ErrStorage is returned when the feedback store cannot persist or read
	// records. Callers must retry; feedback is never dropped.
	ErrStorage = errors.New("feedback storage failure")

	// ErrProviderUnavailable marks a suggestion provider that failed or timed
	// out. It is recorded on the suggestion set and never returned.
	ErrProviderUnavailable = errors.New("suggestion provider unavailable")
)

// wrapped is a sentinel that also matches its parent with errors.Is.
type wrapped struct {
	msg    string
	parent error
}

func (e *wrapped) Error() string { return e.parent.Error() + ": " + e.msg }

func (e *wrapped) Unwrap() error { return e.parent }
