package templates

import (
	"fmt"
	"html"
	"strings"
)

// RenderEmail wraps plain text in the branded layout. bodyContent is
// HTML-escaped and newlines become <br> tags.
func RenderEmail(subject, bodyContent string) string {
	escaped := html.EscapeString(bodyContent)
	htmlBody := strings.ReplaceAll(escaped, "\n", "<br>")
	return renderLayout(html.EscapeString(subject), htmlBody)
}

func renderLayout(safeSubject, htmlBody string) string {
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #f4f6f8; }
    .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
    .header { background: #2f6f62; padding: 32px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 22px; font-weight: 600; }
    .content { padding: 32px 30px; color: #1f2933; line-height: 1.6; font-size: 15px; }
    .content table { width: 100%%; border-collapse: collapse; }
    .content td { padding: 6px 4px; border-bottom: 1px solid #e4e7eb; }
    .footer { padding: 24px; text-align: center; color: #7b8794; font-size: 12px; border-top: 1px solid #e4e7eb; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s</h1>
    </div>
    <div class="content">
      %s
    </div>
    <div class="footer">
      <p>Haven counselor alerts. Session details stay in the dashboard.</p>
    </div>
  </div>
</body>
</html>`, safeSubject, safeSubject, htmlBody)
}

// SessionSummary is the slice of a session shown in alert emails
type SessionSummary struct {
	ID          string
	DisplayName string
	Excerpt     string
	Waiting     string
}

// RenderNewSessionEmail is sent to counselors when a user opens a session
func RenderNewSessionEmail(s SessionSummary, dashboardURL string) string {
	body := fmt.Sprintf(`<p><strong>%s</strong> is waiting for a counselor.</p>
<blockquote>%s</blockquote>
<p><a href="%s">Open session %s</a></p>`,
		html.EscapeString(s.DisplayName),
		html.EscapeString(s.Excerpt),
		html.EscapeString(dashboardURL),
		html.EscapeString(s.ID))
	return renderLayout("New support session", body)
}

// RenderPendingDigestEmail lists sessions that have waited too long
func RenderPendingDigestEmail(sessions []SessionSummary) string {
	var rows strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(s.DisplayName),
			html.EscapeString(s.Excerpt),
			html.EscapeString(s.Waiting))
	}
	body := fmt.Sprintf(`<p>%d session(s) are still pending.</p>
<table>
%s</table>`, len(sessions), rows.String())
	return renderLayout("Sessions waiting for a counselor", body)
}
