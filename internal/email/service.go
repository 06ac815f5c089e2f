package email

import (
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/example/atelier-shop/internal/domain/order"
)

// Service handles email sending via SMTP. Customer mail goes to the order's
// email address; operational alerts go to the atelier inbox.
type Service struct {
	host    string
	port    string
	from    string
	adminTo string
}

// NewService creates a new email service
func NewService(host, port, from, adminTo string) *Service {
	return &Service{
		host:    host,
		port:    port,
		from:    from,
		adminTo: adminTo,
	}
}

// SendOrderConfirmation sends an order confirmation to the customer.
func (s *Service) SendOrderConfirmation(o *order.Order) error {
	subject := fmt.Sprintf("Thank you for your order (#%s)", shortID(o.ID))
	return s.send(o.Email, subject, BuildOrderConfirmationBody(o))
}

// SendOrderDelivered tells the customer their piece has arrived.
func (s *Service) SendOrderDelivered(o *order.Order) error {
	subject := fmt.Sprintf("Your order has been delivered (#%s)", shortID(o.ID))
	return s.send(o.Email, subject, BuildOrderDeliveredBody(o))
}

// SendCancelRequested alerts the atelier that a customer asked to cancel.
func (s *Service) SendCancelRequested(o *order.Order) error {
	subject := fmt.Sprintf("Cancel requested for order #%s", shortID(o.ID))
	return s.send(s.adminTo, subject, BuildCancelRequestedBody(o))
}

// SendReturnRequested alerts the atelier that a customer opened a return.
func (s *Service) SendReturnRequested(o *order.Order) error {
	subject := fmt.Sprintf("Return requested for order #%s", shortID(o.ID))
	return s.send(s.adminTo, subject, BuildReturnRequestedBody(o))
}

// SendReturnLabel mails the customer their prepaid return label as a PDF
// attachment.
func (s *Service) SendReturnLabel(o *order.Order, label []byte) error {
	subject := fmt.Sprintf("Your return label for order #%s", shortID(o.ID))
	filename := fmt.Sprintf("return-label-%s.pdf", shortID(o.ID))
	return s.sendWithAttachment(o.Email, subject, BuildReturnLabelBody(o), filename, label)
}

// SendReturnRejected tells the customer their return request was declined.
func (s *Service) SendReturnRejected(o *order.Order) error {
	subject := fmt.Sprintf("About your return request (#%s)", shortID(o.ID))
	return s.send(o.Email, subject, BuildReturnRejectedBody(o))
}

// SendRefundConfirmation confirms the refund to the customer.
func (s *Service) SendRefundConfirmation(o *order.Order) error {
	subject := fmt.Sprintf("Your refund has been issued (#%s)", shortID(o.ID))
	return s.send(o.Email, subject, BuildRefundConfirmationBody(o))
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}

func (s *Service) sendWithAttachment(to, subject, body, filename string, attachment []byte) error {
	var buf strings.Builder
	w := multipart.NewWriter(&buf)

	header := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=%s\r\n\r\n",
		s.from, to, subject, w.Boundary())

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return err
	}
	if _, err := htmlPart.Write([]byte(body)); err != nil {
		return err
	}

	filePart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/pdf"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename=%q`, filename)},
	})
	if err != nil {
		return err
	}
	if _, err := filePart.Write([]byte(base64.StdEncoding.EncodeToString(attachment))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(header+buf.String()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
