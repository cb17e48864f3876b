package drip

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/badoux/checkmail"

	"dripline/models"
)

// TemplateData holds the variables available to step content.
type TemplateData struct {
	ClientName   string
	DealTitle    string
	CompanyName  string
	CompanyEmail string
	CompanyPhone string
}

func templateData(deal *DealContext) TemplateData {
	return TemplateData{
		ClientName:   deal.ClientName,
		DealTitle:    deal.Title,
		CompanyName:  deal.CompanyName,
		CompanyEmail: deal.CompanyEmail,
		CompanyPhone: deal.CompanyPhone,
	}
}

// Rendered is the frozen content and recipients of one job.
type Rendered struct {
	Subject string
	Body    string
	SMSBody string
	ToEmail string
	ToPhone string
}

// Render validates a step against its channel and renders its content for a
// deal. Any returned error means the step cannot be scheduled for this deal.
func Render(step models.DripStep, deal *DealContext) (Rendered, error) {
	if !step.Channel.Valid() {
		return Rendered{}, fmt.Errorf("unknown channel %q", step.Channel)
	}
	if missing := step.MissingContent(); len(missing) > 0 {
		return Rendered{}, fmt.Errorf("missing %s for channel %s", strings.Join(missing, ", "), step.Channel)
	}

	data := templateData(deal)
	var out Rendered
	var err error

	if step.Channel.UsesEmail() {
		if err := checkmail.ValidateFormat(deal.ClientEmail); err != nil {
			return Rendered{}, fmt.Errorf("client email %q: %v", deal.ClientEmail, err)
		}
		out.ToEmail = deal.ClientEmail
		if out.Subject, err = renderText("subject", step.EmailSubject, data); err != nil {
			return Rendered{}, err
		}
		if out.Body, err = renderHTML("email_body", step.EmailBody, data); err != nil {
			return Rendered{}, err
		}
	}

	if step.Channel.UsesSMS() {
		if strings.TrimSpace(deal.ClientPhone) == "" {
			return Rendered{}, fmt.Errorf("client has no phone number")
		}
		out.ToPhone = deal.ClientPhone
		if out.SMSBody, err = renderText("sms_body", step.SMSBody, data); err != nil {
			return Rendered{}, err
		}
	}

	return out, nil
}

func renderText(name, src string, data TemplateData) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("error parsing %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering %s: %v", name, err)
	}
	return buf.String(), nil
}

func renderHTML(name, src string, data TemplateData) (string, error) {
	tmpl, err := htmltemplate.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("error parsing %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering %s: %v", name, err)
	}
	return buf.String(), nil
}
