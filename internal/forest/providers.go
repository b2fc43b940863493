package forest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mintforest/internal/browser"
	"mintforest/internal/model"
	"mintforest/internal/social/discord"
	"mintforest/internal/social/twitter"
)

// TwitterProvider is the twitter sub-account capability: snapshot refresh and
// the OAuth2 authorization-code flow. The default implementation talks HTTP
// and falls back to a browser flow on consent challenges; tests substitute
// fakes.
type TwitterProvider interface {
	RequestUser(ctx context.Context, acct *model.TwitterAccount, proxy string) (model.TwitterUser, error)
	OAuth2(ctx context.Context, acct *model.TwitterAccount, proxy string, params twitter.OAuth2Params) (string, error)
}

// DiscordOutcome is what a successful discord bind preparation yields.
type DiscordOutcome struct {
	AuthCode string
	Join     model.GuildJoin
}

// DiscordProvider joins the campaign guild, passes verification and approves
// the OAuth2 grant in one shot, mirroring what the binding step needs.
type DiscordProvider interface {
	JoinGuildAndAuthorize(ctx context.Context, acct *model.DiscordAccount, proxy string) (DiscordOutcome, error)
}

type HTTPTwitterProvider struct {
	UserAgent string
	Timeout   time.Duration
	// Browser is the optional rod-driven fallback for accounts whose HTTP
	// flow hits a login or consent challenge.
	Browser *browser.Flow
	// Unlock enables the capsolver-backed account-access flow for locked
	// accounts; without a key a locked account aborts immediately.
	Unlock twitter.UnlockOptions
}

func (p *HTTPTwitterProvider) client(acct *model.TwitterAccount, proxy string) *twitter.Client {
	return twitter.New(acct, twitter.Options{
		Proxy:     proxy,
		UserAgent: p.UserAgent,
		Timeout:   p.Timeout,
	})
}

func (p *HTTPTwitterProvider) RequestUser(ctx context.Context, acct *model.TwitterAccount, proxy string) (model.TwitterUser, error) {
	c := p.client(acct, proxy)
	user, err := c.RequestUser(ctx)
	if errors.Is(err, twitter.ErrLocked) && p.Unlock.CapsolverKey != "" {
		if uerr := c.Unlock(ctx, p.Unlock); uerr != nil {
			return model.TwitterUser{}, fmt.Errorf("%w: %v", twitter.ErrLocked, uerr)
		}
		return c.RequestUser(ctx)
	}
	return user, err
}

func (p *HTTPTwitterProvider) OAuth2(ctx context.Context, acct *model.TwitterAccount, proxy string, params twitter.OAuth2Params) (string, error) {
	code, err := p.client(acct, proxy).OAuth2(ctx, params)
	if err == nil {
		return code, nil
	}
	// Credential problems won't be fixed by a browser; everything else gets
	// one browser attempt before giving up.
	if errors.Is(err, twitter.ErrBadToken) || errors.Is(err, twitter.ErrSuspended) || errors.Is(err, twitter.ErrLocked) {
		return "", err
	}
	if p.Browser == nil {
		return "", err
	}
	return p.Browser.ObtainAuthorizationCode(ctx,
		"https://x.com/i/oauth2/authorize?"+oauth2Query(params),
		[]*http.Cookie{
			{Name: "auth_token", Value: acct.AuthToken, Domain: ".x.com"},
			{Name: "ct0", Value: acct.CT0, Domain: ".x.com"},
		},
		params.RedirectURI,
	)
}

func oauth2Query(params twitter.OAuth2Params) string {
	q := url.Values{}
	q.Set("client_id", params.ClientID)
	q.Set("state", params.State)
	q.Set("code_challenge", params.CodeChallenge)
	q.Set("code_challenge_method", params.CodeChallengeMethod)
	q.Set("scope", params.Scope)
	q.Set("response_type", params.ResponseType)
	q.Set("redirect_uri", params.RedirectURI)
	return q.Encode()
}

// GuildParams pins the campaign guild and its verification message.
type GuildParams struct {
	InviteCode      string
	GuildID         int64
	VerifyChannelID int64
	VerifyMessageID int64
	VerifyReaction  string
	OAuth2          discord.OAuth2Request
}

type HTTPDiscordProvider struct {
	UserAgent string
	Timeout   time.Duration
	Guild     GuildParams
}

func (p *HTTPDiscordProvider) JoinGuildAndAuthorize(ctx context.Context, acct *model.DiscordAccount, proxy string) (DiscordOutcome, error) {
	c := discord.New(acct, discord.Options{
		Proxy:     proxy,
		UserAgent: p.UserAgent,
		Timeout:   p.Timeout,
	})

	if err := c.RequestProfile(ctx); err != nil {
		return DiscordOutcome{}, err
	}

	invite, err := c.JoinGuild(ctx, p.Guild.InviteCode)
	if err != nil {
		return DiscordOutcome{}, err
	}
	if err := c.AcceptRules(ctx, invite.GuildID, invite.Code); err != nil {
		return DiscordOutcome{}, err
	}
	if p.Guild.VerifyChannelID != 0 && p.Guild.VerifyMessageID != 0 && p.Guild.VerifyReaction != "" {
		if err := c.AddReaction(ctx, p.Guild.VerifyChannelID, p.Guild.VerifyMessageID, p.Guild.VerifyReaction); err != nil {
			return DiscordOutcome{}, err
		}
	}

	code, err := c.Authorize(ctx, p.Guild.OAuth2)
	if err != nil {
		return DiscordOutcome{}, err
	}
	return DiscordOutcome{
		AuthCode: code,
		Join: model.GuildJoin{
			DiscordID:  acct.ID,
			GuildID:    invite.GuildID,
			InviteCode: invite.Code,
			Joined:     true,
		},
	}, nil
}
