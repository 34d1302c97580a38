package notify

import (
	"html/template"
	"time"

	"gymledger/internal/membership"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("02 Jan 2006") },
}

func parse(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(body))
}

const layoutStyle = `
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #111827; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border-radius: 0 0 8px 8px; }
        .card { background: white; border-radius: 8px; padding: 16px; margin: 16px 0; }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>`

const footer = `
    <div class="footer">
        {{.Gym.Name}}{{with .Gym.Address}} • {{.}}{{end}}<br/>
        {{with .Gym.Phone}}{{.}}{{end}}{{with .Gym.Email}} • {{.}}{{end}}
    </div>`

var templates = map[membership.Reason]*template.Template{
	membership.ReasonWelcome: parse("welcome", `
<!DOCTYPE html>
<html>
<head>` + layoutStyle + `
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Welcome to {{.Gym.Name}}!</h2>
    </div>
    <div class="content">
        <p>Hi {{.Member.Name}},</p>
        <p>Your <strong>{{.Member.MembershipType}}</strong> membership is set up.</p>
        <div class="card">
            <p><strong>Start date:</strong> {{date .Member.EnrolledAt}}</p>
            <p><strong>Valid until:</strong> {{date .Member.ExpiresAt}}</p>
            <p><strong>Fee:</strong> {{.Member.TotalFee.StringFixed 2}}</p>
            {{if .Member.AmountDue.IsPositive}}<p><strong>Amount due:</strong> {{.Member.AmountDue.StringFixed 2}}</p>{{end}}
        </div>
        <p>See you on the floor.</p>
    </div>` + footer + `
</div>
</body>
</html>
`),

	membership.ReasonPaymentDue: parse("payment_due", `
<!DOCTYPE html>
<html>
<head>` + layoutStyle + `
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Payment reminder</h2>
    </div>
    <div class="content">
        <p>Hi {{.Member.Name}},</p>
        <p>This is a friendly reminder that a payment is pending on your membership.</p>
        <div class="card">
            <p><strong>Amount due:</strong> {{.Member.AmountDue.StringFixed 2}}</p>
            <p><strong>Paid so far:</strong> {{.Member.AmountPaid.StringFixed 2}} of {{.Member.TotalFee.StringFixed 2}}</p>
            <p><strong>Membership valid until:</strong> {{date .Member.ExpiresAt}}</p>
        </div>
        <p>You can pay at the front desk by cash, card, UPI or cheque.</p>
    </div>` + footer + `
</div>
</body>
</html>
`),

	membership.ReasonExpiring: parse("expiring", `
<!DOCTYPE html>
<html>
<head>` + layoutStyle + `
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Your membership expires soon</h2>
    </div>
    <div class="content">
        <p>Hi {{.Member.Name}},</p>
        <p>Your <strong>{{.Member.MembershipType}}</strong> membership expires on <strong>{{date .Member.ExpiresAt}}</strong>.</p>
        <p>Renew before then to keep training without a break.</p>
    </div>` + footer + `
</div>
</body>
</html>
`),
}

var subjects = map[membership.Reason]string{
	membership.ReasonWelcome:    "Welcome to %s - %s!",
	membership.ReasonPaymentDue: "%s: Payment Reminder - %s",
	membership.ReasonExpiring:   "%s: Membership Expiry Reminder - %s",
}
