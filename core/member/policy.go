package member

import "github.com/trezcool/memberhub/core"

// Policy decides who is an administrator, from a configured email allow-list.
type Policy struct {
	emails []string
	admins map[string]struct{}
}

func NewPolicy(emails ...string) *Policy {
	p := &Policy{admins: make(map[string]struct{}, len(emails))}
	for _, email := range emails {
		email = core.CleanString(email, true /* lower */)
		if email == "" {
			continue
		}
		if _, ok := p.admins[email]; !ok {
			p.admins[email] = struct{}{}
			p.emails = append(p.emails, email)
		}
	}
	return p
}

// IsAdmin is true only for a non-anonymous principal whose email is allow-listed.
func (p *Policy) IsAdmin(principal *Principal) bool {
	if principal == nil || principal.IsAnonymous {
		return false
	}
	email := core.CleanString(principal.Email, true /* lower */)
	if email == "" {
		return false
	}
	_, ok := p.admins[email]
	return ok
}

// Emails returns the allow-listed emails, in configuration order.
func (p *Policy) Emails() []string {
	out := make([]string, len(p.emails))
	copy(out, p.emails)
	return out
}
