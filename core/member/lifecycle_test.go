package member_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/memberhub/core/member"
)

func TestDeriveState(t *testing.T) {
	p := &member.Principal{ID: "u1"}
	withStatus := func(s member.Status) *member.Profile { return &member.Profile{Status: s} }

	tests := []struct {
		name      string
		principal *member.Principal
		profile   *member.Profile
		guest     bool
		want      member.State
	}{
		{"nobody", nil, nil, false, member.Unauthenticated},
		{"guest", nil, nil, true, member.GuestBrowsing},
		{"signed in, no profile", p, nil, false, member.AwaitingRegistration},
		{"signed in overrides guest", p, nil, true, member.AwaitingRegistration},
		{"pending", p, withStatus(member.StatusPending), false, member.RegistrationPending},
		{"active", p, withStatus(member.StatusActive), false, member.Active},
		{"active guest flag ignored", p, withStatus(member.StatusActive), true, member.Active},
		{"expired", p, withStatus(member.StatusExpired), false, member.Expired},
		{"unknown status", p, withStatus("weird"), false, member.RegistrationPending},
		{"profile without principal", nil, withStatus(member.StatusActive), false, member.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := member.DeriveState(tt.principal, tt.profile, tt.guest)
			assert.Equal(t, tt.want, got)
			for i := 0; i < 3; i++ {
				assert.Equal(t, got, member.DeriveState(tt.principal, tt.profile, tt.guest), "deterministic")
			}
		})
	}
}

func TestState_ShowsDashboard(t *testing.T) {
	tests := []struct {
		state member.State
		want  bool
	}{
		{member.Unauthenticated, false},
		{member.GuestBrowsing, true},
		{member.AwaitingRegistration, false},
		{member.RegistrationPending, true},
		{member.Active, true},
		{member.Expired, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.ShowsDashboard())
		})
	}
}

func TestState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]member.State{"state": member.RegistrationPending})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"state": "registration_pending"}`, string(data))
	assert.Equal(t, "unknown", member.State(42).String())
}
