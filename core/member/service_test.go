package member_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	emailsvc "github.com/trezcool/memberhub/services/email"
	inmemstore "github.com/trezcool/memberhub/storage/docstore/inmem"
	"github.com/trezcool/memberhub/tests"
)

const adminEmail = "admin@example.com"

var (
	ns    = testutil.Namespace
	admin = testutil.Federated("admin-1", adminEmail, "Admin")
	ann   = testutil.Federated("u1", "ann@example.com", "Ann")
)

type fixture struct {
	svc  *member.Service
	spy  *testutil.SpyStore
	mail *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) fixture {
	conf := testutil.NewConfig(adminEmail)
	logger := testutil.NewLogger()
	spy := testutil.NewSpyStore(inmemstore.New())
	mail := emailsvc.NewConsoleServiceMock(conf, logger)
	return fixture{
		svc:  member.NewService(conf, spy, mail, logger),
		spy:  spy,
		mail: mail,
	}
}

var validRegistration = member.NewRegistration{IdentificationNumber: "ID123", ReceiptURL: "https://x/r.png"}

func TestService_Register(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	prof, err := f.svc.Register(ctx, ann, validRegistration)
	require.NoError(t, err)
	assert.Equal(t, member.StatusPending, prof.Status)
	assert.Equal(t, "Ann", prof.Name)
	assert.Equal(t, "ann@example.com", prof.Email)
	assert.Equal(t, "ID123", prof.IdentificationNumber)
	assert.Equal(t, "https://x/r.png", prof.ReceiptURL)
	assert.False(t, prof.IsAdmin)
	assert.False(t, prof.RegisteredAt.IsZero())

	stored, err := f.svc.GetProfile(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, member.StatusPending, stored.Status)
	assert.Equal(t, []testutil.Call{{Op: "set", Path: member.ProfilePath(ns, ann.ID)}}, f.spy.Writes())

	// admins are told about the new registration
	sent := f.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, adminEmail, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "ID123")
	assert.Contains(t, sent[0].HTMLContent, "https://x/r.png")
}

func TestService_Register_TrimsInput(t *testing.T) {
	f := setup(t)
	prof, err := f.svc.Register(context.Background(), ann, member.NewRegistration{
		IdentificationNumber: "  ID123 ",
		ReceiptURL:           "\thttps://x/r.png\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "ID123", prof.IdentificationNumber)
	assert.Equal(t, "https://x/r.png", prof.ReceiptURL)
}

func TestService_Register_Validation(t *testing.T) {
	tests := []struct {
		name       string
		nr         member.NewRegistration
		wantFields []string
	}{
		{"empty id", member.NewRegistration{ReceiptURL: "https://x/r.png"}, []string{"identification_number"}},
		{"blank id", member.NewRegistration{IdentificationNumber: "   ", ReceiptURL: "https://x/r.png"}, []string{"identification_number"}},
		{"empty receipt", member.NewRegistration{IdentificationNumber: "ID123"}, []string{"receipt_url"}},
		{"both empty", member.NewRegistration{}, []string{"identification_number", "receipt_url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := f.svc.Register(context.Background(), ann, tt.nr)
			require.Error(t, err)
			require.True(t, core.IsValidation(err), "err = %v", err)

			vErr := err.(*core.ValidationError)
			fields := make([]string, 0, len(vErr.Fields))
			for _, fe := range vErr.Fields {
				fields = append(fields, fe.Field)
				assert.NotEmpty(t, fe.Error)
			}
			assert.Equal(t, tt.wantFields, fields)
			assert.Empty(t, f.spy.Calls(), "no store call")
		})
	}
}

func TestService_Register_Once(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, ann, validRegistration)
	require.NoError(t, err)
	f.spy.Reset()

	_, err = f.svc.Register(ctx, ann, member.NewRegistration{IdentificationNumber: "OTHER", ReceiptURL: "https://x/2.png"})
	assert.Equal(t, core.ErrAlreadyRegistered, err)
	assert.Empty(t, f.spy.Writes())

	stored, err := f.svc.GetProfile(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "ID123", stored.IdentificationNumber, "first registration is kept")
}

func TestService_Register_Anonymous(t *testing.T) {
	f := setup(t)
	prof, err := f.svc.Register(context.Background(), testutil.Anonymous("anon-1"), validRegistration)
	require.NoError(t, err)
	assert.Equal(t, member.StatusPending, prof.Status)
	assert.Empty(t, prof.Email)
}

func TestService_Register_StoreFailure(t *testing.T) {
	f := setup(t)
	f.spy.FailOn("set", core.NewStoreError("set", "", assert.AnError))
	_, err := f.svc.Register(context.Background(), ann, validRegistration)
	assert.True(t, core.IsStore(err), "err = %v", err)
}

func TestService_Approve(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusPending)
	testutil.CreateProfile(t, f.spy, "U2", "Bob", "bob@example.com", member.StatusPending)
	f.spy.Reset()

	require.NoError(t, f.svc.Approve(ctx, &admin, "U1"))
	assert.Equal(t, []testutil.Call{{Op: "update", Path: member.ProfilePath(ns, "U1")}}, f.spy.Writes())

	u1, err := f.svc.GetProfile(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, member.StatusActive, u1.Status)
	assert.Equal(t, "ID-U1", u1.IdentificationNumber, "other fields untouched")

	u2, err := f.svc.GetProfile(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, member.StatusPending, u2.Status)

	pending, err := f.svc.ListPending(ctx, &admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "U2", pending[0].UID)

	sent := f.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ann@example.com", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "approved")
}

func TestService_Expire(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusActive)

	require.NoError(t, f.svc.Expire(ctx, &admin, "U1"))
	u1, err := f.svc.GetProfile(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, member.StatusExpired, u1.Status)
}

func TestService_Approve_RenewsExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusExpired)

	require.NoError(t, f.svc.Approve(ctx, &admin, "U1"))
	u1, err := f.svc.GetProfile(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, member.StatusActive, u1.Status)
	assert.Len(t, f.mail.SentMessages(), 1)
}

func TestService_AdminOps_SameStatus(t *testing.T) {
	tests := []struct {
		name   string
		status member.Status
		op     func(svc *member.Service) error
	}{
		{"approve active", member.StatusActive, func(svc *member.Service) error {
			return svc.Approve(context.Background(), &admin, "U1")
		}},
		{"expire expired", member.StatusExpired, func(svc *member.Service) error {
			return svc.Expire(context.Background(), &admin, "U1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", tt.status)
			f.spy.Reset()

			require.NoError(t, tt.op(f.svc))
			assert.Empty(t, f.spy.Writes())
			assert.Empty(t, f.mail.SentMessages())

			u1, err := f.svc.GetProfile(context.Background(), "U1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, u1.Status)
		})
	}
}

func TestService_AdminOps_Missing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.True(t, core.IsNotFound(f.svc.Approve(ctx, &admin, "ghost")))
	assert.True(t, core.IsNotFound(f.svc.Expire(ctx, &admin, "ghost")))
	assert.NoError(t, f.svc.Delete(ctx, &admin, "ghost"))
	assert.Empty(t, f.mail.SentMessages())
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusPending)
	testutil.CreateProfile(t, f.spy, "U2", "Bob", "bob@example.com", member.StatusPending)
	f.spy.Reset()

	require.NoError(t, f.svc.Delete(ctx, &admin, "U1"))
	assert.Equal(t, []testutil.Call{{Op: "delete", Path: member.ProfilePath(ns, "U1")}}, f.spy.Writes())

	_, err := f.svc.GetProfile(ctx, "U1")
	assert.True(t, core.IsNotFound(err))
	_, err = f.svc.GetProfile(ctx, "U2")
	assert.NoError(t, err)
}

// there is no "rejected" status: rejecting is deleting, and the member may register again
func TestService_RejectedMayRegisterAgain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, ann, validRegistration)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, &admin, ann.ID))

	prof, err := f.svc.Register(ctx, ann, validRegistration)
	require.NoError(t, err)
	assert.Equal(t, member.StatusPending, prof.Status)
}

func TestService_AdminOps_PermissionDenied(t *testing.T) {
	anon := testutil.Anonymous("anon-1")
	anonWithAdminEmail := member.Principal{ID: "x", Email: adminEmail, IsAnonymous: true}

	callers := []struct {
		name   string
		caller *member.Principal
	}{
		{"no principal", nil},
		{"member", &ann},
		{"anonymous", &anon},
		{"anonymous with admin email", &anonWithAdminEmail},
	}
	ops := []struct {
		name string
		run  func(svc *member.Service, caller *member.Principal) error
	}{
		{"approve", func(svc *member.Service, c *member.Principal) error { return svc.Approve(context.Background(), c, "U1") }},
		{"expire", func(svc *member.Service, c *member.Principal) error { return svc.Expire(context.Background(), c, "U1") }},
		{"delete", func(svc *member.Service, c *member.Principal) error { return svc.Delete(context.Background(), c, "U1") }},
		{"list pending", func(svc *member.Service, c *member.Principal) error {
			_, err := svc.ListPending(context.Background(), c)
			return err
		}},
	}
	for _, c := range callers {
		for _, op := range ops {
			t.Run(c.name+"/"+op.name, func(t *testing.T) {
				f := setup(t)
				testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusPending)
				f.spy.Reset()

				err := op.run(f.svc, c.caller)
				assert.Equal(t, core.ErrPermissionDenied, err)
				assert.Empty(t, f.spy.Calls(), "no store call")
			})
		}
	}
}

// a profile claiming is_admin grants nothing
func TestService_ForgedAdminFlag(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	forged, _ := json.Marshal(map[string]interface{}{
		"name": "Mallory", "email": "mallory@example.com", "status": "active", "is_admin": true,
	})
	require.NoError(t, f.spy.Set(ctx, member.ProfilePath(ns, "mallory"), json.RawMessage(forged)))
	testutil.CreateProfile(t, f.spy, "U1", "Ann", "ann@example.com", member.StatusPending)
	f.spy.Reset()

	mallory := testutil.Federated("mallory", "mallory@example.com", "Mallory")
	prof, err := f.svc.GetProfile(ctx, mallory.ID)
	require.NoError(t, err)
	require.True(t, prof.IsAdmin)

	assert.False(t, f.svc.IsAdmin(&mallory))
	assert.Equal(t, core.ErrPermissionDenied, f.svc.Approve(ctx, &mallory, "U1"))
	assert.Empty(t, f.spy.Writes())
}

func TestService_AdminRegistersWithDisplayFlag(t *testing.T) {
	f := setup(t)
	prof, err := f.svc.Register(context.Background(), admin, validRegistration)
	require.NoError(t, err)
	assert.True(t, prof.IsAdmin)
}
