package drip

import (
	"strings"
	"testing"

	"dripline/models"
)

func testDeal() *DealContext {
	return &DealContext{
		DealID:       1,
		CompanyID:    7,
		Title:        "Roof repair",
		ClientName:   "Ada <Lovelace>",
		ClientEmail:  "ada@example.com",
		ClientPhone:  "+15550001111",
		CompanyName:  "Acme Roofing",
		CompanyPhone: "+15559990000",
	}
}

func TestRenderEmail(t *testing.T) {
	step := models.DripStep{
		Channel:      models.ChannelEmail,
		EmailSubject: "Your estimate for {{.DealTitle}}",
		EmailBody:    "<p>Hi {{.ClientName}}, thanks from {{.CompanyName}}</p>",
	}

	got, err := Render(step, testDeal())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got.Subject != "Your estimate for Roof repair" {
		t.Fatalf("subject = %q", got.Subject)
	}
	if !strings.Contains(got.Body, "Ada &lt;Lovelace&gt;") {
		t.Fatalf("body not html escaped: %q", got.Body)
	}
	if got.ToEmail != "ada@example.com" || got.ToPhone != "" {
		t.Fatalf("recipients = %q / %q", got.ToEmail, got.ToPhone)
	}
}

func TestRenderBoth(t *testing.T) {
	step := models.DripStep{
		Channel:      models.ChannelBoth,
		EmailSubject: "Hello",
		EmailBody:    "Body",
		SMSBody:      "Call {{.CompanyPhone}}",
	}

	got, err := Render(step, testDeal())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got.SMSBody != "Call +15559990000" || got.ToPhone != "+15550001111" || got.ToEmail == "" {
		t.Fatalf("unexpected render: %+v", got)
	}
}

func TestRenderRejects(t *testing.T) {
	noEmail := testDeal()
	noEmail.ClientEmail = "not-an-email"
	noPhone := testDeal()
	noPhone.ClientPhone = " "

	tests := []struct {
		name string
		step models.DripStep
		deal *DealContext
		want string
	}{
		{"missing subject", models.DripStep{Channel: models.ChannelEmail, EmailBody: "b"}, testDeal(), "email_subject"},
		{"missing sms", models.DripStep{Channel: models.ChannelSMS}, testDeal(), "sms_body"},
		{"unknown channel", models.DripStep{Channel: "fax"}, testDeal(), "unknown channel"},
		{"bad email", models.DripStep{Channel: models.ChannelEmail, EmailSubject: "s", EmailBody: "b"}, noEmail, "client email"},
		{"no phone", models.DripStep{Channel: models.ChannelSMS, SMSBody: "b"}, noPhone, "phone"},
		{"unknown variable", models.DripStep{Channel: models.ChannelSMS, SMSBody: "{{.Nope}}"}, testDeal(), "sms_body"},
		{"bad template", models.DripStep{Channel: models.ChannelSMS, SMSBody: "{{.ClientName"}, testDeal(), "sms_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.step, tt.deal)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
