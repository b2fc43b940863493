package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Proxy     string
	// Limiter is shared across all account clients to pace requests against
	// the platform globally. Nil disables pacing.
	Limiter *rate.Limiter
}

// Client is a stateless request executor for one account session. It attaches
// the session token, decodes the success envelope and raises *Error on any
// non-success. The token is mutated in exactly one place: the login endpoint's
// response. No retry logic lives here.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	token   string
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("authorization", "Bearer")
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Proxy != "" {
		hc.SetProxy(opts.Proxy)
	}
	return &Client{http: hc, limiter: opts.Limiter}
}

// Token returns the current session token, empty when not logged in.
func (c *Client) Token() string { return c.token }

// SetToken restores a cached session token, e.g. from storage.
func (c *Client) SetToken(token string) { c.token = token }

type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

type callOptions struct {
	noAuth    bool
	queryAuth bool
	query     map[string]string
}

type callOption func(*callOptions)

// withoutAuth skips token attachment (login itself).
func withoutAuth() callOption {
	return func(o *callOptions) { o.noAuth = true }
}

// withQueryAuth passes the token as the jwtToken query parameter instead of
// the authorization header, per-endpoint policy.
func withQueryAuth() callOption {
	return func(o *callOptions) { o.queryAuth = true }
}

func withQuery(params map[string]string) callOption {
	return func(o *callOptions) { o.query = params }
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, opts ...callOption) error {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if len(co.query) > 0 {
		req.SetQueryParams(co.query)
	}
	if c.token != "" && !co.noAuth {
		if co.queryAuth {
			req.SetQueryParam("jwtToken", c.token)
		} else {
			req.SetHeader("authorization", "Bearer "+c.token)
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	status := resp.StatusCode()
	raw := resp.Body()
	isJSON := strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json")

	if status < 200 || status >= 300 {
		pe := &Error{HTTPStatus: status, Message: strings.TrimSpace(string(raw))}
		if isJSON {
			var env envelope
			if json.Unmarshal(raw, &env) == nil && (env.Code != 0 || env.Msg != "") {
				pe.Code = env.Code
				pe.Message = env.Msg
			}
		}
		if pe.Message == "" {
			pe.Message = http.StatusText(status)
		}
		return pe
	}

	if !isJSON {
		if out != nil {
			return json.Unmarshal(raw, out)
		}
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{HTTPStatus: status, Message: "malformed response: " + err.Error()}
	}
	if env.Code != CodeOK {
		msg := env.Msg
		if msg == "" {
			msg = "No error message"
		}
		return &Error{HTTPStatus: status, Code: env.Code, Message: msg}
	}
	if out != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}
