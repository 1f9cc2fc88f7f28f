package utils

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"lwie/models"
)

type stubSender struct {
	sent []*gomail.Message
	err  error
}

func (s *stubSender) DialAndSend(m ...*gomail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func testReceipt() models.ReceiptRecord {
	return models.ReceiptRecord{
		TransactionID: "tx-1-1",
		PlanName:      "Standard",
		Price:         20,
		Currency:      "ETB",
		PostsCount:    7,
		CustomerName:  "Abebe <Bikila>",
		Date:          time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderReceiptHTML(t *testing.T) {
	html, err := RenderReceiptHTML(testReceipt())
	require.NoError(t, err)

	assert.Contains(t, html, "tx-1-1")
	assert.Contains(t, html, "20 ETB")
	assert.Contains(t, html, "10 Jun 2024 12:00")
	assert.Contains(t, html, "Abebe &lt;Bikila&gt;")
}

func TestSendReceipt(t *testing.T) {
	sender := &stubSender{}
	mailer := &ReceiptMailer{sender: sender, from: "billing@lwie.et", logger: discardLogger()}

	require.NoError(t, mailer.SendReceipt(context.Background(), "abebe@example.com", testReceipt()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"abebe@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"billing@lwie.et"}, msg.GetHeader("From"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Standard")
}

func TestSendReceiptFailure(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused")}
	mailer := &ReceiptMailer{sender: sender, from: "billing@lwie.et", logger: discardLogger()}

	err := mailer.SendReceipt(context.Background(), "abebe@example.com", testReceipt())
	assert.ErrorContains(t, err, "connection refused")
}
