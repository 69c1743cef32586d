package emailsvc

import (
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/memberhub/core"
)

type sendgridService struct {
	client *sendgrid.Client
	from   *sgmail.Email
	logger core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	from := conf.DefaultFromAddress()
	return &sendgridService{
		client: sendgrid.NewSendClient(conf.SendgridApiKey),
		from:   sgmail.NewEmail(from.Name, from.Address),
		logger: logger,
	}
}

// SendMessages renders the messages in the caller's goroutine and delivers them in the background, one after the other.
func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	batch := make([]*sgmail.SGMailV3, 0, len(messages))
	for _, msg := range messages {
		if err := msg.Render(); err != nil {
			svc.logger.Error(fmt.Sprintf("rendering email %q: %v", msg.Subject, err), err)
			continue
		}
		if msg.HasRecipients() && msg.HasContent() {
			batch = append(batch, svc.newMail(*msg))
		}
	}
	if len(batch) > 0 {
		go svc.deliver(batch)
	}
}

// newMail addresses every recipient separately so that admins notified together do not see each other.
func (svc *sendgridService) newMail(msg core.EmailMessage) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.Subject = msg.Subject
	for _, to := range msg.To {
		p := sgmail.NewPersonalization()
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
		m.AddPersonalizations(p)
	}

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func (svc *sendgridService) deliver(batch []*sgmail.SGMailV3) {
	for _, m := range batch {
		res, err := svc.client.Send(m)
		switch {
		case err != nil:
			svc.logger.Error(fmt.Sprintf("sending email %q: %v", m.Subject, err), err)
		case res.StatusCode >= http.StatusBadRequest:
			svc.logger.Error(fmt.Sprintf("sending email %q - status: %d - body: %s", m.Subject, res.StatusCode, res.Body))
		}
	}
}
