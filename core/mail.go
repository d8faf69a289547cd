package core

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"
)

var (
	templates   map[string]*texttmpl.Template // {name: template}
	templatesMu sync.RWMutex

	emailTemplatesDir = "templates/email"
)

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	} else if m.TemplateName == "" {
		return nil
	}

	templatesMu.RLock()
	tmpl, ok := templates[m.TemplateName]
	templatesMu.RUnlock()
	if !ok {
		return fmt.Errorf("email template %q not found", m.TemplateName)
	}

	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.TemplateData); err != nil {
		return err
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.TextContent != "" }

// ParseEmailTemplates parses the *.txt email templates found under templates/email in fsys.
// Each template is parsed along with _base.txt and named after its file; files starting with "_" are partials.
func ParseEmailTemplates(fsys fs.FS, logger Logger, strict bool) {
	parsed := make(map[string]*texttmpl.Template)

	fps, err := fs.Glob(fsys, path.Join(emailTemplatesDir, "*.txt"))
	if err != nil {
		logger.Error(fmt.Sprintf("parsing email templates: %v", err), err)
		return
	}
	base := path.Join(emailTemplatesDir, "_base.txt")

	for _, fp := range fps {
		fname := path.Base(fp)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		tmpl, err := texttmpl.ParseFS(fsys, fp, base)
		if err != nil {
			logger.Error(fmt.Sprintf("parsing email template %s: %v", fname, err), err)
			continue
		}
		if strict {
			tmpl = tmpl.Option("missingkey=error")
		}
		parsed[strings.TrimSuffix(fname, ".txt")] = tmpl
	}

	templatesMu.Lock()
	templates = parsed
	templatesMu.Unlock()
}
