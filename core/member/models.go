package member

import (
	"time"

	"github.com/trezcool/memberhub/core"
)

// Status is the registration status stored on a Profile.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired:
		return true
	}
	return false
}

// Principal is the authenticated identity of a session. It is replaced wholesale, never mutated.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Profile is the registration record owned by a Principal.
// IsAdmin is informational only and never consulted for authorization.
type Profile struct {
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	IdentificationNumber string    `json:"identification_number"`
	ReceiptURL           string    `json:"receipt_url"`
	Status               Status    `json:"status"`
	IsAdmin              bool      `json:"is_admin"`
	RegisteredAt         time.Time `json:"registered_at"` // UTC
}

// PendingUser is a pending Profile together with the id of the Principal owning it.
type PendingUser struct {
	UID string `json:"uid"`
	Profile
}

// NewRegistration contains the information a Principal submits to register.
type NewRegistration struct {
	IdentificationNumber string `json:"identification_number" validate:"required,notblank"`
	ReceiptURL           string `json:"receipt_url" validate:"required,notblank"`
}

func (nr *NewRegistration) Validate(v *core.Validator) error {
	nr.IdentificationNumber = core.CleanString(nr.IdentificationNumber)
	nr.ReceiptURL = core.CleanString(nr.ReceiptURL)
	return v.Struct(nr)
}
