// Package notify builds the synthesized MIME bounce/spam notification
// message spec.md §7 describes: "a synthesized MIME message is
// generated and submitted via the Reinjector". It implements
// disposition.Notifier.
package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/busybox42/decency/internal/session"
)

const defaultTemplate = `Subject: Notice: your message was {{.Reason}}
From: {{.From}}
To: {{.To}}
Date: {{.Date}}

Your message to {{.To}} was {{.Reason}} by the content filter.

Queue-ID: {{.QueueID}}
{{range .Details}}  - {{.}}
{{end}}
`

// TemplateData is the set of fields the notification template may
// reference.
type TemplateData struct {
	Reason  string
	From    string
	To      string
	Date    string
	QueueID string
	Details []string
}

// Builder builds a notification MIME file in scratchDir and returns
// its path, from either a user-supplied template file or the built-in
// default.
type Builder struct {
	scratchDir   string
	templatePath string
	tmpl         *template.Template
}

// New parses templatePath once at construction; an empty path falls
// back to defaultTemplate.
func New(scratchDir, templatePath string) (*Builder, error) {
	b := &Builder{scratchDir: scratchDir, templatePath: templatePath}

	body := defaultTemplate
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("notify: read template %s: %w", templatePath, err)
		}
		body = string(data)
	}

	tmpl, err := template.New("notification").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("notify: parse template: %w", err)
	}
	b.tmpl = tmpl
	return b, nil
}

// Build renders the template against s and reason, writes it to a
// fresh file under scratchDir, and returns its path.
func (b *Builder) Build(ctx context.Context, s *session.MessageSession, reason string) (string, error) {
	to := s.From()
	if len(s.To()) > 0 {
		to = s.To()[0]
	}

	data := TemplateData{
		Reason:  reason,
		From:    s.From(),
		To:      to,
		Date:    time.Now().UTC().Format(time.RFC1123Z),
		QueueID: s.QueueID(),
		Details: s.SpamDetails(),
	}

	path := filepath.Join(b.scratchDir, fmt.Sprintf("notify-%s-%s.eml", s.ID(), reason))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("notify: create %s: %w", path, err)
	}
	defer f.Close()

	if err := b.tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("notify: render template: %w", err)
	}
	return path, nil
}
