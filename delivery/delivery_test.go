package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gopkg.in/gomail.v2"
)

type captureDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *captureDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	d := &captureDialer{}
	m := &SMTPMailer{dialer: d, from: formatFrom("Acme", "hello@acme.test")}

	if err := m.SendEmail(context.Background(), "ada@example.com", "Hi", "<p>body</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("sent %d messages", len(d.sent))
	}
	msg := d.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "ada@example.com" {
		t.Fatalf("to = %v", got)
	}
	if got := msg.GetHeader("From"); len(got) != 1 || got[0] != "Acme <hello@acme.test>" {
		t.Fatalf("from = %v", got)
	}
}

func TestSMTPMailerErrors(t *testing.T) {
	d := &captureDialer{err: errors.New("relay down")}
	m := &SMTPMailer{dialer: d, from: "x@y.test"}
	if err := m.SendEmail(context.Background(), "a@b.test", "s", "b"); err == nil || !strings.Contains(err.Error(), "relay down") {
		t.Fatalf("expected relay error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.SendEmail(ctx, "a@b.test", "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestChannelsNotConfigured(t *testing.T) {
	var c Channels
	if err := c.SendEmail(context.Background(), "a", "b", "c"); !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("email: %v", err)
	}
	if err := c.SendSMS(context.Background(), "a", "b"); !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("sms: %v", err)
	}
}

// startGateway serves handler over an in-memory listener and points the
// gateway's client at it.
func startGateway(t *testing.T, g *SMSGateway, handler fasthttp.RequestHandler) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, handler) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	g.client.Dial = func(addr string) (net.Conn, error) {
		return ln.Dial()
	}
}

func TestSMSGatewaySends(t *testing.T) {
	g := NewSMSGateway(SMSConfig{
		BaseURL:    "http://sms.test/2010-04-01/",
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550000000",
		Timeout:    time.Second,
	})

	var (
		path, to, from, body, auth string
	)
	startGateway(t, g, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		to = string(ctx.PostArgs().Peek("To"))
		from = string(ctx.PostArgs().Peek("From"))
		body = string(ctx.PostArgs().Peek("Body"))
		auth = string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		ctx.SetStatusCode(fasthttp.StatusCreated)
	})

	if err := g.SendSMS(context.Background(), "+15551112222", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %q", path)
	}
	if to != "+15551112222" || from != "+15550000000" || body != "hello" {
		t.Fatalf("form = %q %q %q", to, from, body)
	}
	if !strings.HasPrefix(auth, "Basic ") {
		t.Fatalf("auth = %q", auth)
	}
}

func TestSMSGatewayRejected(t *testing.T) {
	g := NewSMSGateway(SMSConfig{BaseURL: "http://sms.test", AccountSID: "AC1", Timeout: time.Second})
	startGateway(t, g, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"message":"invalid number"}`)
	})

	err := g.SendSMS(context.Background(), "bogus", "hello")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}
