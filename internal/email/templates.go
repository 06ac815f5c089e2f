package email

import (
	"fmt"
	"strings"

	"github.com/example/atelier-shop/internal/domain/order"
)

// BuildOrderConfirmationBody builds the HTML body for the order confirmation
// email.
func BuildOrderConfirmationBody(o *order.Order) string {
	var itemsHTML strings.Builder
	for _, item := range o.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			name,
			formatPrice(item.PriceCents),
		))
	}

	return wrap("Thank you for your order", fmt.Sprintf(`
		<p style="margin-top: 0;">Thank you for shopping with us. Each of our pieces is handmade and one of a kind, and yours is now being prepared for shipment.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<h2 style="font-size: 18px; border-bottom: 2px solid #b08d57; padding-bottom: 10px;">Your order</h2>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Piece</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Price</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #b08d57; margin-left: 10px;">%s</span>
		</div>`,
		o.ID, itemsHTML.String(), formatPrice(o.TotalCents)))
}

// BuildOrderDeliveredBody builds the HTML body for the delivery notice.
func BuildOrderDeliveredBody(o *order.Order) string {
	return wrap("Your order has arrived", fmt.Sprintf(`
		<p style="margin-top: 0;">Our carrier has marked order <strong style="font-family: monospace;">%s</strong> as delivered. We hope your new piece brings you joy.</p>
		<p>If anything is not right, you can request a return from your order page within 14 days of delivery.</p>`,
		shortID(o.ID)))
}

// BuildCancelRequestedBody builds the admin alert for a cancel request.
func BuildCancelRequestedBody(o *order.Order) string {
	return wrap("Cancel requested", fmt.Sprintf(`
		<p style="margin-top: 0;">A customer has asked to cancel order <strong style="font-family: monospace;">%s</strong> (%s).</p>
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Reason given</p>
			<p style="margin: 5px 0 0 0;">%s</p>
		</div>
		<p>Review it in the admin console to accept or reject the request.</p>`,
		o.ID, formatPrice(o.TotalCents), orDash(o.CancelReason)))
}

// BuildReturnRequestedBody builds the admin alert for a return request.
func BuildReturnRequestedBody(o *order.Order) string {
	var photosHTML strings.Builder
	for _, url := range o.ReturnPhotos {
		photosHTML.WriteString(fmt.Sprintf(`<li><a href="%s">%s</a></li>`, url, url))
	}
	photos := "<p>No photos attached.</p>"
	if photosHTML.Len() > 0 {
		photos = "<ul>" + photosHTML.String() + "</ul>"
	}

	return wrap("Return requested", fmt.Sprintf(`
		<p style="margin-top: 0;">A customer has opened a return for order <strong style="font-family: monospace;">%s</strong> (%s).</p>
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Reason given</p>
			<p style="margin: 5px 0 0 0;">%s</p>
		</div>
		%s
		<p>Review it in the admin console to accept or reject the return.</p>`,
		o.ID, formatPrice(o.TotalCents), orDash(o.ReturnReason), photos))
}

// BuildReturnLabelBody builds the customer email that carries the return
// label attachment.
func BuildReturnLabelBody(o *order.Order) string {
	return wrap("Your return label", fmt.Sprintf(`
		<p style="margin-top: 0;">We have accepted your return for order <strong style="font-family: monospace;">%s</strong>.</p>
		<p>Your prepaid return label is attached to this email. Please pack the piece securely, attach the label, and hand the parcel to the carrier.</p>
		<p>Your refund will be issued once the return arrives back at our studio.</p>`,
		shortID(o.ID)))
}

// BuildReturnRejectedBody builds the customer email for a declined return.
func BuildReturnRejectedBody(o *order.Order) string {
	return wrap("About your return request", fmt.Sprintf(`
		<p style="margin-top: 0;">We have reviewed your return request for order <strong style="font-family: monospace;">%s</strong> and are unable to accept it.</p>
		<p>If you believe this is a mistake, please reply to this email and we will take another look.</p>`,
		shortID(o.ID)))
}

// BuildRefundConfirmationBody builds the customer email for a completed
// refund.
func BuildRefundConfirmationBody(o *order.Order) string {
	return wrap("Your refund has been issued", fmt.Sprintf(`
		<p style="margin-top: 0;">Your return for order <strong style="font-family: monospace;">%s</strong> has arrived back at our studio, and we have issued a refund of <strong>%s</strong> to your original payment method.</p>
		<p>Depending on your bank it may take a few business days to appear.</p>`,
		shortID(o.ID), formatPrice(o.TotalCents)))
}

// wrap puts a body inside the shared shell: header banner, card, footer.
func wrap(title, inner string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #b08d57 0%%, #8c6d3f 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		%s

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This email was sent automatically. If you have any questions, just reply and we will get back to you.
		</p>
	</div>
</body>
</html>`, title, inner)
}

// orDash substitutes a placeholder when the customer left the field blank.
func orDash(s string) string {
	if s == "" {
		return "(none given)"
	}
	return s
}

// formatPrice renders cents as a dollar amount with thousands separators.
func formatPrice(cents int) string {
	return "$" + formatNumber(cents/100) + fmt.Sprintf(".%02d", cents%100)
}

// formatNumber formats a number with comma separators
func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
