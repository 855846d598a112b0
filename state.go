package crmauth

// State is the authentication state of a Manager
type State int

const (
	// StateUnknown is the initial state, before the first validation
	StateUnknown State = iota
	// StateAuthenticating means a login or registration is in flight
	StateAuthenticating
	// StateAuthenticated means a validated token and identity are held
	StateAuthenticated
	// StateUnauthenticated means there is no valid token
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// Resolved reports whether the state is final enough to render against.
func (s State) Resolved() bool {
	return s == StateAuthenticated || s == StateUnauthenticated
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent read of the manager's public surface.
type Snapshot struct {
	State           State     `json:"state"`
	Identity        *Identity `json:"user,omitempty"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	IsLoading       bool      `json:"isLoading"`
	// Expired is set when the last transition to Unauthenticated was forced
	// by the authority rejecting the token.
	Expired bool `json:"expired,omitempty"`
}
