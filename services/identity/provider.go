package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
)

// Provider is the identity of one client. It implements member.SessionProvider.
type Provider struct {
	verifier *Verifier

	mu        sync.Mutex
	principal *member.Principal
	listeners map[int]func(*member.Principal)
	nextID    int
}

var _ member.SessionProvider = (*Provider)(nil)

// NewProvider starts signed out, or resumes the given principal.
func NewProvider(verifier *Verifier, resume ...member.Principal) *Provider {
	p := &Provider{
		verifier:  verifier,
		listeners: make(map[int]func(*member.Principal)),
	}
	if len(resume) > 0 {
		cp := resume[0]
		p.principal = &cp
	}
	return p
}

func (p *Provider) CurrentPrincipal() *member.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.principal == nil {
		return nil
	}
	cp := *p.principal
	return &cp
}

func (p *Provider) Subscribe(fn func(*member.Principal)) core.Unsubscribe {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) set(principal *member.Principal) {
	p.mu.Lock()
	p.principal = principal
	listeners := make([]func(*member.Principal), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		if principal == nil {
			fn(nil)
			continue
		}
		cp := *principal
		fn(&cp)
	}
}

func (p *Provider) SignInFederated(ctx context.Context, credential string) (member.Principal, error) {
	if err := ctx.Err(); err != nil {
		return member.Principal{}, core.NewAuthError(err)
	}
	principal, err := p.verifier.Verify(credential)
	if err != nil {
		return member.Principal{}, err
	}
	p.set(&principal)
	return principal, nil
}

// SignInAnonymous creates a fresh anonymous principal.
func (p *Provider) SignInAnonymous(ctx context.Context) (member.Principal, error) {
	if err := ctx.Err(); err != nil {
		return member.Principal{}, core.NewAuthError(err)
	}
	principal := member.Principal{ID: uuid.NewString(), IsAnonymous: true}
	p.set(&principal)
	return principal, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.set(nil)
	return nil
}
