package member

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
)

type (
	// SessionProvider is the identity capability: it yields the current Principal and notifies on change.
	SessionProvider interface {
		CurrentPrincipal() *Principal
		// Subscribe calls fn with the current principal (nil when signed out) after every change.
		Subscribe(fn func(*Principal)) core.Unsubscribe
		SignInFederated(ctx context.Context, credential string) (Principal, error)
		SignInAnonymous(ctx context.Context) (Principal, error)
		SignOut(ctx context.Context) error
	}

	Service struct {
		namespace string
		appName   string
		baseURL   string
		store     core.DocumentStore
		policy    *Policy
		validator *core.Validator
		mailSvc   core.EmailService
		logger    core.Logger
	}
)

func NewService(conf *core.Config, store core.DocumentStore, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		namespace: conf.Namespace,
		appName:   conf.AppName,
		baseURL:   conf.FrontendBaseURL,
		store:     store,
		policy:    NewPolicy(conf.AdminEmails...),
		validator: core.NewValidator(),
		mailSvc:   mailSvc,
		logger:    logger,
	}
}

func (svc *Service) Namespace() string { return svc.namespace }
func (svc *Service) Policy() *Policy   { return svc.policy }

func (svc *Service) IsAdmin(principal *Principal) bool {
	return svc.policy.IsAdmin(principal)
}

// GetProfile returns core.ErrNotFound when uid never registered.
func (svc *Service) GetProfile(ctx context.Context, uid string) (Profile, error) {
	doc, err := svc.store.Get(ctx, ProfilePath(svc.namespace, uid))
	if err != nil {
		return Profile{}, err
	}
	var prof Profile
	if err := doc.Decode(&prof); err != nil {
		return Profile{}, err
	}
	return prof, nil
}

// Register writes a pending profile for principal, once.
// The existence check and the write are not atomic; a concurrent duplicate submission is accepted.
func (svc *Service) Register(ctx context.Context, principal Principal, nr NewRegistration) (Profile, error) {
	if err := nr.Validate(svc.validator); err != nil {
		return Profile{}, err
	}

	path := ProfilePath(svc.namespace, principal.ID)
	if _, err := svc.store.Get(ctx, path); err == nil {
		return Profile{}, core.ErrAlreadyRegistered
	} else if !core.IsNotFound(err) {
		return Profile{}, errors.Wrap(err, "checking existing registration")
	}

	prof := Profile{
		Name:                 principal.DisplayName,
		Email:                principal.Email,
		IdentificationNumber: nr.IdentificationNumber,
		ReceiptURL:           nr.ReceiptURL,
		Status:               StatusPending,
		IsAdmin:              svc.policy.IsAdmin(&principal),
		RegisteredAt:         time.Now().UTC(),
	}
	if err := svc.store.Set(ctx, path, prof); err != nil {
		return Profile{}, errors.Wrap(err, "writing registration")
	}

	svc.notifyAdmins(prof)
	return prof, nil
}

func (svc *Service) checkAdmin(caller *Principal) error {
	if !svc.policy.IsAdmin(caller) {
		return core.ErrPermissionDenied
	}
	return nil
}

func (svc *Service) setStatus(ctx context.Context, caller *Principal, uid string, status Status) error {
	if err := svc.checkAdmin(caller); err != nil {
		return err
	}
	prof, err := svc.GetProfile(ctx, uid)
	if err != nil {
		return errors.Wrapf(err, "setting status %s", status)
	}
	if prof.Status == status {
		return nil
	}

	path := ProfilePath(svc.namespace, uid)
	if err := svc.store.Update(ctx, path, core.Fields{"status": string(status)}); err != nil {
		return errors.Wrapf(err, "setting status %s", status)
	}
	svc.logger.Info("profile "+uid+" is now "+string(status), *caller)

	prof.Status = status
	svc.notifyMember(prof)
	return nil
}

// Approve activates the membership of uid. Approving an expired membership renews it.
// A profile that is already active is left as is. Admins only.
func (svc *Service) Approve(ctx context.Context, caller *Principal, uid string) error {
	return svc.setStatus(ctx, caller, uid, StatusActive)
}

// Expire ends the membership of uid. An expired profile is left as is. Admins only.
func (svc *Service) Expire(ctx context.Context, caller *Principal, uid string) error {
	return svc.setStatus(ctx, caller, uid, StatusExpired)
}

// Delete removes the profile of uid; this is how a registration is rejected. Admins only.
func (svc *Service) Delete(ctx context.Context, caller *Principal, uid string) error {
	if err := svc.checkAdmin(caller); err != nil {
		return err
	}
	if err := svc.store.Delete(ctx, ProfilePath(svc.namespace, uid)); err != nil {
		return errors.Wrap(err, "deleting profile")
	}
	svc.logger.Info("profile "+uid+" deleted", *caller)
	return nil
}

// ListPending returns the first snapshot of the pending-users query. Admins only.
func (svc *Service) ListPending(ctx context.Context, caller *Principal) ([]PendingUser, error) {
	if err := svc.checkAdmin(caller); err != nil {
		return nil, err
	}

	snapshots := make(chan []core.Document, 1)
	unsub, err := svc.store.SubscribeCollection(ctx, PendingQuery(svc.namespace), func(docs []core.Document) {
		select {
		case snapshots <- docs:
		default:
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying pending users")
	}
	defer unsub()

	select {
	case docs := <-snapshots:
		return PendingUsers(docs), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (svc *Service) newMessage(tmpl string, data interface{}) *core.EmailMessage {
	return &core.EmailMessage{
		TemplateName:    tmpl,
		TemplateData:    data,
		AppName:         svc.appName,
		FrontendBaseURL: svc.baseURL,
	}
}

func (svc *Service) notifyAdmins(prof Profile) {
	emails := svc.policy.Emails()
	if svc.mailSvc == nil || len(emails) == 0 {
		return
	}
	msg := svc.newMessage("registration_submitted", prof)
	msg.Subject = "New registration"
	for _, email := range emails {
		msg.To = append(msg.To, mail.Address{Address: email})
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *Service) notifyMember(prof Profile) {
	if svc.mailSvc == nil || prof.Email == "" {
		return
	}
	var msg *core.EmailMessage
	switch prof.Status {
	case StatusActive:
		msg = svc.newMessage("membership_active", prof)
		msg.Subject = "Your membership is active"
	case StatusExpired:
		msg = svc.newMessage("membership_expired", prof)
		msg.Subject = "Your membership has expired"
	default:
		return
	}
	msg.To = []mail.Address{{Name: prof.Name, Address: prof.Email}}
	svc.mailSvc.SendMessages(msg)
}
