package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mintforest/internal/model"
)

// Capability errors the runner treats as account-logic conditions.
var (
	ErrBadToken        = errors.New("discord: invalid auth token")
	ErrCaptchaRequired = errors.New("discord: captcha required")
	ErrNoPhone         = errors.New("discord: account has no phone number")
)

// errAlreadyAcceptedRules is the API code returned when guild rules were
// accepted before.
const codeRulesAlreadyAccepted = 150009

type Options struct {
	Proxy     string
	UserAgent string
	Timeout   time.Duration
}

// Client drives one discord sub-account over the v9 HTTP API.
type Client struct {
	http    *resty.Client
	account *model.DiscordAccount
}

func New(account *model.DiscordAccount, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := resty.New().
		SetBaseURL("https://discord.com").
		SetTimeout(timeout).
		SetHeader("authorization", account.AuthToken)
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Proxy != "" {
		hc.SetProxy(opts.Proxy)
	}
	return &Client{http: hc, account: account}
}

type apiError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	CaptchaKey []any  `json:"captcha_key"`
}

func (c *Client) classify(resp *resty.Response) error {
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	if len(body.CaptchaKey) > 0 {
		return ErrCaptchaRequired
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrBadToken
	}
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}
	return fmt.Errorf("discord: unexpected response (status %d, code %d): %s",
		resp.StatusCode(), body.Code, msg)
}

// RequestProfile fetches the account's own identity and validates that the
// credential set is usable (accounts without a phone number cannot pass guild
// verification).
func (c *Client) RequestProfile(ctx context.Context) error {
	var out struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Email      string `json:"email"`
		Phone      string `json:"phone"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/v9/users/@me")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return c.classify(resp)
	}

	c.account.UserID, _ = strconv.ParseInt(out.ID, 10, 64)
	c.account.Username = out.Username
	c.account.Name = out.GlobalName
	c.account.Email = out.Email
	c.account.Phone = out.Phone
	c.account.Status = "GOOD"
	if out.Phone == "" {
		return ErrNoPhone
	}
	return nil
}

type Invite struct {
	Code    string `json:"code"`
	GuildID int64  `json:"-"`
	Guild   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"guild"`
	ApproximateMemberCount int `json:"approximate_member_count"`
}

// JoinGuild accepts an invite code and returns the resolved invite.
func (c *Client) JoinGuild(ctx context.Context, inviteCode string) (Invite, error) {
	var invite Invite
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		SetResult(&invite).
		Post("/api/v9/invites/" + url.PathEscape(inviteCode))
	if err != nil {
		return Invite{}, err
	}
	if resp.IsError() {
		return Invite{}, c.classify(resp)
	}
	invite.GuildID, _ = strconv.ParseInt(invite.Guild.ID, 10, 64)
	return invite, nil
}

// AcceptRules agrees to the guild's member verification form. Already
// accepted is not an error.
func (c *Client) AcceptRules(ctx context.Context, guildID int64, inviteCode string) error {
	var form json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("with_guild", "false").
		SetQueryParam("invite_code", inviteCode).
		SetResult(&form).
		Get(fmt.Sprintf("/api/v9/guilds/%d/member-verification", guildID))
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNoContent || len(form) == 0 {
		return nil
	}
	if resp.IsError() {
		var body apiError
		_ = json.Unmarshal(resp.Body(), &body)
		if body.Code == codeRulesAlreadyAccepted {
			return nil
		}
		return c.classify(resp)
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(form).
		Put(fmt.Sprintf("/api/v9/guilds/%d/requests/@me", guildID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		var body apiError
		_ = json.Unmarshal(resp.Body(), &body)
		if body.Code == codeRulesAlreadyAccepted {
			return nil
		}
		return c.classify(resp)
	}
	return nil
}

// AddReaction adds a verification reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID int64, emoji string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Put(fmt.Sprintf("/api/v9/channels/%d/messages/%d/reactions/%s/@me",
			channelID, messageID, url.PathEscape(emoji)))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return c.classify(resp)
	}
	return nil
}
