package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/trezcool/memberhub/apps/api/echo"
	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	emailsvc "github.com/trezcool/memberhub/services/email"
	"github.com/trezcool/memberhub/services/identity"
	inmemstore "github.com/trezcool/memberhub/storage/docstore/inmem"
	"github.com/trezcool/memberhub/tests"
)

const adminEmail = "admin@example.com"

var (
	ann   = testutil.Federated("u1", "ann@example.com", "Ann")
	admin = testutil.Federated("admin-1", adminEmail, "Admin")

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type fixture struct {
	app     Server
	conf    *core.Config
	spy     *testutil.SpyStore
	members *member.Service
}

func setup(t *testing.T) fixture {
	conf := testutil.NewConfig(adminEmail)
	conf.NoticeTimeout = time.Minute
	logger := testutil.NewLogger()

	spy := testutil.NewSpyStore(inmemstore.New())
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	members := member.NewService(conf, spy, mailSvc, logger)
	verifier, err := identity.NewVerifier(conf.Identity)
	require.NoError(t, err)

	return fixture{
		app: NewServer(ServerDeps{
			Conf:     conf,
			Logger:   logger,
			Store:    spy,
			Members:  members,
			Verifier: verifier,
		}),
		conf:    conf,
		spy:     spy,
		members: members,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte // nil: body not checked
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, p member.Principal) string {
	token, err := GenerateToken(conf, p)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
