package member

// State is the registration lifecycle state of a session.
type State int

const (
	Unauthenticated State = iota
	GuestBrowsing
	AwaitingRegistration
	RegistrationPending
	Active
	Expired
)

var stateNames = map[State]string{
	Unauthenticated:      "unauthenticated",
	GuestBrowsing:        "guest_browsing",
	AwaitingRegistration: "awaiting_registration",
	RegistrationPending:  "registration_pending",
	Active:               "active",
	Expired:              "expired",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ShowsDashboard reports whether public content is visible in this state.
func (s State) ShowsDashboard() bool {
	switch s {
	case GuestBrowsing, RegistrationPending, Active, Expired:
		return true
	}
	return false
}

// DeriveState computes the lifecycle state. A present principal always wins over the guest flag.
// An unknown profile status is treated as pending.
func DeriveState(principal *Principal, profile *Profile, guest bool) State {
	if principal == nil {
		if guest {
			return GuestBrowsing
		}
		return Unauthenticated
	}
	if profile == nil {
		return AwaitingRegistration
	}
	switch profile.Status {
	case StatusActive:
		return Active
	case StatusExpired:
		return Expired
	default:
		return RegistrationPending
	}
}
