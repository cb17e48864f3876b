package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

type SMSConfig struct {
	// BaseURL is the provider API root, e.g. https://api.twilio.com/2010-04-01.
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

// SMSGateway posts messages to a Twilio style REST endpoint.
type SMSGateway struct {
	client *fasthttp.Client
	cfg    SMSConfig
}

func NewSMSGateway(cfg SMSConfig) *SMSGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSGateway{
		client: &fasthttp.Client{
			Name:         "dripline",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		cfg: cfg,
	}
}

func (g *SMSGateway) endpoint() string {
	return fmt.Sprintf("%s/Accounts/%s/Messages.json",
		strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(g.cfg.AccountSID))
}

func (g *SMSGateway) SendSMS(ctx context.Context, to, body string) error {
	timeout := g.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.endpoint())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	auth := base64.StdEncoding.EncodeToString([]byte(g.cfg.AccountSID + ":" + g.cfg.AuthToken))
	req.Header.Set(fasthttp.HeaderAuthorization, "Basic "+auth)

	args := req.PostArgs()
	args.Set("To", to)
	args.Set("From", g.cfg.FromNumber)
	args.Set("Body", body)

	if err := g.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("sms gateway returned %d: %s", code, truncate(string(resp.Body()), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
