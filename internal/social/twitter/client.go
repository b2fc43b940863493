package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mintforest/internal/model"
)

// webBearer is the public bearer token the twitter web client ships with;
// requests authenticate through the auth_token/ct0 cookie pair on top of it.
const webBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// Capability errors. All of them are account-logic conditions: the credential
// set is unusable and retrying will not help.
var (
	ErrBadToken  = errors.New("twitter: invalid auth token")
	ErrSuspended = errors.New("twitter: account suspended")
	ErrLocked    = errors.New("twitter: account locked, unlock required")
)

type Options struct {
	Proxy     string
	UserAgent string
	Timeout   time.Duration
}

// Client drives one twitter sub-account over the private web API.
type Client struct {
	http    *resty.Client
	account *model.TwitterAccount
}

func New(account *model.TwitterAccount, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := resty.New().
		SetBaseURL("https://x.com").
		SetTimeout(timeout).
		SetHeader("authorization", "Bearer "+webBearer).
		SetCookie(&http.Cookie{Name: "auth_token", Value: account.AuthToken})
	if account.CT0 != "" {
		hc.SetCookie(&http.Cookie{Name: "ct0", Value: account.CT0})
		hc.SetHeader("x-csrf-token", account.CT0)
	}
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Proxy != "" {
		hc.SetProxy(opts.Proxy)
	}
	return &Client{http: hc, account: account}
}

type apiErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) classify(resp *resty.Response) error {
	var body apiErrors
	_ = json.Unmarshal(resp.Body(), &body)
	for _, e := range body.Errors {
		switch e.Code {
		case 32:
			return ErrBadToken
		case 64:
			return ErrSuspended
		case 326:
			return ErrLocked
		}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrBadToken
	}
	return fmt.Errorf("twitter: unexpected response (status %d): %s",
		resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}

// refreshCSRF captures a rotated ct0 cookie so it can be persisted alongside
// the auth token.
func (c *Client) refreshCSRF(resp *resty.Response) {
	for _, ck := range resp.Cookies() {
		if ck.Name == "ct0" && ck.Value != "" && ck.Value != c.account.CT0 {
			c.account.CT0 = ck.Value
			c.http.SetCookie(&http.Cookie{Name: "ct0", Value: ck.Value})
			c.http.SetHeader("x-csrf-token", ck.Value)
		}
	}
}

// RequestUser fetches the account's own profile: id, handle, follower count
// and creation time drive binding eligibility.
func (c *Client) RequestUser(ctx context.Context) (model.TwitterUser, error) {
	var out struct {
		ID             int64  `json:"id"`
		ScreenName     string `json:"screen_name"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		Location       string `json:"location"`
		FollowersCount int    `json:"followers_count"`
		FriendsCount   int    `json:"friends_count"`
		CreatedAt      string `json:"created_at"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/i/api/1.1/account/verify_credentials.json")
	if err != nil {
		return model.TwitterUser{}, err
	}
	c.refreshCSRF(resp)
	if resp.IsError() {
		return model.TwitterUser{}, c.classify(resp)
	}

	user := model.TwitterUser{
		ID:             out.ID,
		Username:       out.ScreenName,
		Name:           out.Name,
		Description:    out.Description,
		Location:       out.Location,
		FollowersCount: out.FollowersCount,
		FriendsCount:   out.FriendsCount,
	}
	if t, err := time.Parse(time.RubyDate, out.CreatedAt); err == nil {
		user.CreatedAt = t
	}
	c.account.Username = out.ScreenName
	c.account.Status = "GOOD"
	return user, nil
}
