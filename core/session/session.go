package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/dashboard"
	"github.com/trezcool/memberhub/core/member"
)

// View selects the dashboard tab.
type View string

const (
	ViewAnnouncements View = "announcements"
	ViewActivities    View = "activities"
	ViewGallery       View = "gallery"
)

func (v View) Valid() bool {
	switch v {
	case ViewAnnouncements, ViewActivities, ViewGallery:
		return true
	}
	return false
}

// ViewModel is everything a rendering layer needs to draw the session.
type ViewModel struct {
	State     member.State       `json:"state"`
	Principal *member.Principal  `json:"principal"`
	Profile   *member.Profile    `json:"profile"`
	IsAdmin   bool               `json:"is_admin"`
	Guest     bool               `json:"guest"`
	View      View               `json:"view"`
	Notice    *Notice            `json:"notice"`
	Dashboard dashboard.Snapshot `json:"dashboard"`
}

type Deps struct {
	Provider      member.SessionProvider
	Members       *member.Service
	Store         core.DocumentStore
	Logger        core.Logger
	NoticeTimeout time.Duration
}

// profileWatch is the live subscription on the principal's own profile. It is disposed exactly once.
type profileWatch struct {
	uid   string
	mu    sync.Mutex
	unsub core.Unsubscribe
	done  bool
	once  sync.Once
}

func (w *profileWatch) attach(unsub core.Unsubscribe) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		unsub()
		return
	}
	w.unsub = unsub
	w.mu.Unlock()
}

func (w *profileWatch) close() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.mu.Lock()
		w.done = true
		unsub := w.unsub
		w.unsub = nil
		w.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

// Session drives the registration lifecycle of one client.
// Observers are called outside of the session's lock and must not call back into it synchronously.
type Session struct {
	provider member.SessionProvider
	members  *member.Service
	store    core.DocumentStore
	logger   core.Logger
	agg      *dashboard.Aggregator
	notices  *Notifier

	syncMu sync.Mutex // serializes aggregator syncs

	mu            sync.Mutex
	ctx           context.Context
	principal     *member.Principal
	profile       *member.Profile
	guest         bool
	view          View
	watch         *profileWatch
	observers     map[int]func(ViewModel)
	nextObserver  int
	unsubProvider core.Unsubscribe
	unsubAgg      core.Unsubscribe
	closed        bool

	publishMu     sync.Mutex
	version       uint64
	lastPublished uint64
}

func New(deps Deps) *Session {
	s := &Session{
		provider:  deps.Provider,
		members:   deps.Members,
		store:     deps.Store,
		logger:    deps.Logger,
		agg:       dashboard.NewAggregator(deps.Members.Namespace(), deps.Store, deps.Logger),
		ctx:       context.Background(),
		view:      ViewAnnouncements,
		observers: make(map[int]func(ViewModel)),
	}
	s.notices = NewNotifier(deps.NoticeTimeout, s.publish)
	return s
}

// Start follows the provider's principal until Close. ctx bounds every store call made on behalf of the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	s.ctx = ctx
	s.mu.Unlock()

	unsubAgg := s.agg.OnChange(func(dashboard.Snapshot) { s.publish() })
	unsubProvider := s.provider.Subscribe(func(p *member.Principal) {
		_ = s.setPrincipal(s.context(), p)
	})
	s.mu.Lock()
	s.unsubAgg, s.unsubProvider = unsubAgg, unsubProvider
	s.mu.Unlock()

	if p := s.provider.CurrentPrincipal(); p != nil {
		return s.setPrincipal(ctx, p)
	}
	return s.refresh(ctx)
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func samePrincipal(a, b *member.Principal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// setPrincipal resolves the lifecycle state for p: it reads p's profile and watches it for admin changes.
func (s *Session) setPrincipal(ctx context.Context, p *member.Principal) error {
	s.mu.Lock()
	if s.closed || samePrincipal(s.principal, p) {
		s.mu.Unlock()
		return nil
	}
	if p != nil {
		cp := *p
		s.principal = &cp
		s.guest = false
	} else {
		s.principal = nil
	}
	s.profile = nil
	oldWatch := s.watch
	s.watch = nil
	s.mu.Unlock()

	oldWatch.close()

	var err error
	if p != nil {
		err = s.loadProfile(ctx, p.ID)
	}
	if syncErr := s.refresh(ctx); err == nil {
		err = syncErr
	}
	return err
}

func (s *Session) loadProfile(ctx context.Context, uid string) error {
	prof, err := s.members.GetProfile(ctx, uid)
	switch {
	case err == nil:
		s.mu.Lock()
		if s.principal != nil && s.principal.ID == uid {
			s.profile = &prof
		}
		s.mu.Unlock()
	case core.IsNotFound(err):
		err = nil
	default:
		s.logger.Error(fmt.Sprintf("loading profile: %v", err), err)
		s.notices.Show(NoticeError, "Could not load your profile.")
	}

	if wErr := s.watchProfile(ctx, uid); err == nil {
		err = wErr
	}
	return err
}

func (s *Session) watchProfile(ctx context.Context, uid string) error {
	w := &profileWatch{uid: uid}
	s.mu.Lock()
	if s.closed || s.principal == nil || s.principal.ID != uid {
		s.mu.Unlock()
		return nil
	}
	prior := s.watch
	s.watch = w
	s.mu.Unlock()
	prior.close()

	profPath := member.ProfilePath(s.members.Namespace(), uid)
	q := core.Query{Collection: core.Document{Path: profPath}.Collection()}
	unsub, err := s.store.SubscribeCollection(ctx, q, func(docs []core.Document) {
		s.onProfileSnapshot(w, profPath, docs)
	})
	if err != nil {
		s.mu.Lock()
		if s.watch == w {
			s.watch = nil
		}
		s.mu.Unlock()
		w.close()
		s.logger.Error(fmt.Sprintf("watching profile: %v", err), err)
		return errors.Wrap(err, "watching profile")
	}
	w.attach(unsub)
	return nil
}

func (s *Session) onProfileSnapshot(w *profileWatch, profPath string, docs []core.Document) {
	var prof *member.Profile
	for _, doc := range docs {
		if doc.Path != profPath {
			continue
		}
		var p member.Profile
		if err := doc.Decode(&p); err != nil {
			s.logger.Warn(fmt.Sprintf("decoding profile: %v", err), err)
			return
		}
		prof = &p
	}

	s.mu.Lock()
	if s.closed || s.watch != w {
		s.mu.Unlock()
		return
	}
	s.profile = prof
	ctx := s.ctx
	s.mu.Unlock()

	_ = s.refresh(ctx)
}

// refresh syncs the aggregator with the current state, then publishes the view.
func (s *Session) refresh(ctx context.Context) error {
	s.syncMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.syncMu.Unlock()
		return nil
	}
	state := member.DeriveState(s.principal, s.profile, s.guest)
	isAdmin := s.members.IsAdmin(s.principal)
	var uid string
	if s.principal != nil {
		uid = s.principal.ID
	}
	s.mu.Unlock()

	err := s.agg.Sync(ctx, state, isAdmin, uid)
	s.syncMu.Unlock()

	if err != nil {
		s.notices.Show(NoticeError, "Could not load the dashboard.")
	}
	s.publish()
	return err
}

func (s *Session) viewModel() ViewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm := ViewModel{
		State:     member.DeriveState(s.principal, s.profile, s.guest),
		IsAdmin:   s.members.IsAdmin(s.principal),
		Guest:     s.guest,
		View:      s.view,
		Notice:    s.notices.Current(),
		Dashboard: s.agg.Snapshot(),
	}
	if s.principal != nil {
		p := *s.principal
		vm.Principal = &p
	}
	if s.profile != nil {
		p := *s.profile
		vm.Profile = &p
	}
	return vm
}

// View returns the current view model.
func (s *Session) View() ViewModel {
	return s.viewModel()
}

func (s *Session) State() member.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return member.DeriveState(s.principal, s.profile, s.guest)
}

func (s *Session) publish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.version++
	version := s.version
	s.mu.Unlock()
	vm := s.viewModel()

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if version <= s.lastPublished {
		return
	}
	s.lastPublished = version

	s.mu.Lock()
	observers := make([]func(ViewModel), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(vm)
	}
}

// OnChange registers fn to receive every new view model.
func (s *Session) OnChange(fn func(ViewModel)) core.Unsubscribe {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) fail(err error, text string) error {
	s.notices.Show(NoticeError, text)
	return err
}

// BrowseAsGuest enters read-only guest mode. Only allowed while unauthenticated.
func (s *Session) BrowseAsGuest(ctx context.Context) error {
	s.mu.Lock()
	if member.DeriveState(s.principal, s.profile, s.guest) != member.Unauthenticated {
		s.mu.Unlock()
		return s.fail(core.ErrTransitionNotAllowed, "Guest mode is only available when signed out.")
	}
	s.guest = true
	s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Session) SignInFederated(ctx context.Context, credential string) (member.Principal, error) {
	p, err := s.provider.SignInFederated(ctx, credential)
	if err != nil {
		s.logger.Info(fmt.Sprintf("federated sign-in failed: %v", err))
		return member.Principal{}, s.fail(err, "Sign-in failed. Please try again.")
	}
	if err = s.setPrincipal(ctx, &p); err != nil {
		return p, err
	}
	s.notices.Show(NoticeSuccess, "Signed in.")
	return p, nil
}

func (s *Session) SignInAnonymous(ctx context.Context) (member.Principal, error) {
	p, err := s.provider.SignInAnonymous(ctx)
	if err != nil {
		s.logger.Info(fmt.Sprintf("anonymous sign-in failed: %v", err))
		return member.Principal{}, s.fail(err, "Sign-in failed. Please try again.")
	}
	if err = s.setPrincipal(ctx, &p); err != nil {
		return p, err
	}
	s.notices.Show(NoticeSuccess, "Signed in.")
	return p, nil
}

// SignOut closes every subscription and returns to Unauthenticated, leaving guest mode.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("signing out: %v", err), err)
		return s.fail(err, "Could not sign out.")
	}
	s.mu.Lock()
	s.guest = false
	s.mu.Unlock()
	if err := s.setPrincipal(ctx, nil); err != nil {
		return err
	}
	// leaving guest mode without a principal change still needs a sync
	return s.refresh(ctx)
}

// SubmitRegistration registers the signed in principal. The local state becomes RegistrationPending right away.
func (s *Session) SubmitRegistration(ctx context.Context, nr member.NewRegistration) (member.Profile, error) {
	s.mu.Lock()
	var principal member.Principal
	hasPrincipal := s.principal != nil
	if hasPrincipal {
		principal = *s.principal
	}
	s.mu.Unlock()
	if !hasPrincipal {
		return member.Profile{}, s.fail(core.ErrTransitionNotAllowed, "Sign in to register.")
	}

	prof, err := s.members.Register(ctx, principal, nr)
	if err != nil {
		switch {
		case core.IsValidation(err):
			return member.Profile{}, s.fail(err, "Please fill in every field.")
		case errors.Cause(err) == core.ErrAlreadyRegistered:
			return member.Profile{}, s.fail(err, "You have already registered.")
		default:
			s.logger.Error(fmt.Sprintf("submitting registration: %v", err), err, principal)
			return member.Profile{}, s.fail(err, "Could not submit your registration.")
		}
	}

	s.mu.Lock()
	if s.principal != nil && s.principal.ID == principal.ID && s.profile == nil {
		cp := prof
		s.profile = &cp
	}
	s.mu.Unlock()

	s.notices.Show(NoticeSuccess, "Registration submitted. An administrator will review it.")
	return prof, s.refresh(ctx)
}

func (s *Session) caller() *member.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return nil
	}
	p := *s.principal
	return &p
}

func (s *Session) adminResult(err error, op, uid, done string) error {
	if err == nil {
		s.notices.Show(NoticeSuccess, done)
		return nil
	}
	switch {
	case errors.Cause(err) == core.ErrPermissionDenied:
		return s.fail(err, "Only administrators can do that.")
	case core.IsNotFound(err):
		return s.fail(err, "That registration no longer exists.")
	default:
		s.logger.Error(fmt.Sprintf("%s %s: %v", op, uid, err), err)
		return s.fail(err, "Could not "+op+" the registration.")
	}
}

func (s *Session) Approve(ctx context.Context, uid string) error {
	return s.adminResult(s.members.Approve(ctx, s.caller(), uid), "approve", uid, "Registration approved.")
}

func (s *Session) Expire(ctx context.Context, uid string) error {
	return s.adminResult(s.members.Expire(ctx, s.caller(), uid), "expire", uid, "Membership expired.")
}

// Delete rejects a registration by removing it.
func (s *Session) Delete(ctx context.Context, uid string) error {
	return s.adminResult(s.members.Delete(ctx, s.caller(), uid), "delete", uid, "Registration deleted.")
}

func (s *Session) SelectView(v View) error {
	if !v.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "view", Error: "unknown view " + string(v)})
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	s.publish()
	return nil
}

func (s *Session) Notify(kind NoticeKind, text string) {
	s.notices.Show(kind, text)
}

// Close disposes every subscription of the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	w := s.watch
	s.watch = nil
	s.observers = make(map[int]func(ViewModel))
	unsubProvider, unsubAgg := s.unsubProvider, s.unsubAgg
	s.mu.Unlock()

	if unsubProvider != nil {
		unsubProvider()
	}
	if unsubAgg != nil {
		unsubAgg()
	}
	w.close()
	s.agg.Close()
	s.notices.Stop()
}

// OpenFeeds reports the dashboard feeds with a live subscription.
func (s *Session) OpenFeeds() []dashboard.Feed {
	return s.agg.OpenFeeds()
}
