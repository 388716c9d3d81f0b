package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions restricts auditing to the given actions. Without it
// every action is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.allow = setOf(actions)
	}
}

// WithDisabledActions skips the given actions. It may be combined with
// WithEnabledActions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.deny == nil {
			e.deny = make(map[string]struct{}, len(actions))
		}
		for _, a := range actions {
			e.deny[a] = struct{}{}
		}
	}
}

func setOf(actions []string) map[string]struct{} {
	s := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// audits reports whether action passes the allow and deny filters.
func (e *Extension) audits(action string) bool {
	if _, skip := e.deny[action]; skip {
		return false
	}
	if e.allow == nil {
		return true
	}
	_, ok := e.allow[action]
	return ok
}
