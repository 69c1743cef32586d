package emailsvc

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/tests"
)

func TestSendgridService_newMail(t *testing.T) {
	conf := testutil.NewConfig()
	svc := NewSendgridService(conf, testutil.NewLogger()).(*sendgridService)

	msg := core.EmailMessage{
		To: []mail.Address{
			{Name: "Admin", Address: "admin@example.com"},
			{Address: "board@example.com"},
		},
		Subject: "New registration",
		BodyStr: "Ann registered.",
	}
	require.NoError(t, msg.Render())

	m := svc.newMail(msg)
	assert.Equal(t, "noreply@memberhub.test", m.From.Address)
	assert.Equal(t, "New registration", m.Subject)

	require.Len(t, m.Personalizations, 2)
	for i, want := range []string{"admin@example.com", "board@example.com"} {
		require.Len(t, m.Personalizations[i].To, 1)
		assert.Equal(t, want, m.Personalizations[i].To[0].Address)
	}

	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "Ann registered.", m.Content[0].Value)

	msg.HTMLContent = "<p>Ann registered.</p>"
	m = svc.newMail(msg)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/html", m.Content[1].Type)
}
