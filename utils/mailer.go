package utils

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"lwie/models"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// ReceiptMailer emails purchase receipts over SMTP.
type ReceiptMailer struct {
	sender mailSender
	from   string
	logger logrus.FieldLogger
}

func NewReceiptMailer(host string, port int, username, password, from string, logger logrus.FieldLogger) *ReceiptMailer {
	return &ReceiptMailer{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
		logger: logger,
	}
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<html>
<body>
	<h2>Thank you for your purchase, {{.CustomerName}}!</h2>
	<p>Your payment was received and your posts are ready to use.</p>
	<table>
		<tr><td>Transaction</td><td>{{.TransactionID}}</td></tr>
		<tr><td>Plan</td><td>{{.PlanName}}</td></tr>
		<tr><td>Posts</td><td>{{.PostsCount}}</td></tr>
		<tr><td>Amount</td><td>{{.Price}} {{.Currency}}</td></tr>
		<tr><td>Date</td><td>{{.Date.Format "02 Jan 2006 15:04"}}</td></tr>
	</table>
</body>
</html>
`))

// RenderReceiptHTML renders the receipt email body.
func RenderReceiptHTML(r models.ReceiptRecord) (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *ReceiptMailer) SendReceipt(ctx context.Context, to string, r models.ReceiptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := RenderReceiptHTML(r)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("Your LWIE receipt: %s plan", r.PlanName))
	msg.SetBody("text/html", body)

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send receipt: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"tx_ref": r.TransactionID,
		"to":     to,
	}).Info("Receipt email sent")
	return nil
}
