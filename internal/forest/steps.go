package forest

import (
	"context"
	"errors"

	"mintforest/internal/model"
	"mintforest/internal/platform"
	"mintforest/internal/social/discord"
	"mintforest/internal/social/twitter"
)

// verifyWallet submits the wallet for identity verification. The
// "already registered" response forces a fresh login and a snapshot refresh
// instead of failing.
func (s *Session) verifyWallet(ctx context.Context) (model.StepResult, error) {
	if s.account.User.Verified() {
		return model.StepResult{}, nil
	}

	err := s.api.VerifyWallet(ctx)
	switch {
	case err == nil:
	case platform.IsVerificationRejected(err):
		if serr := s.store.SetVerificationFailed(ctx, s.account.ID, true); serr != nil {
			return model.StepResult{}, serr
		}
		s.account.VerificationFailed = true
		return model.StepResult{}, accountError("wallet rejected by verification", err)
	case platform.IsWalletRegistered(err):
		s.log("info", "wallet already registered, logging in again", nil)
		res, rerr := s.Relogin(ctx)
		if rerr != nil {
			return model.StepResult{}, rerr
		}
		if rerr := s.RefreshUser(ctx); rerr != nil {
			return res, rerr
		}
		return res, nil
	default:
		return model.StepResult{}, err
	}

	s.log("info", "wallet verified", nil)
	if err := s.RefreshUser(ctx); err != nil {
		return model.StepResult{Interacted: true}, err
	}
	return model.StepResult{Interacted: true}, nil
}

// twitterBound derives the binding state by comparing the platform snapshot's
// recorded provider id against the sub-account's own snapshot id.
func (s *Session) twitterBound() bool {
	tw := s.account.Twitter
	user := s.account.User
	return tw != nil && tw.User != nil && user != nil &&
		user.TwitterID != 0 && user.TwitterID == tw.User.ID
}

func (s *Session) bindTwitter(ctx context.Context) (model.StepResult, error) {
	tw := s.account.Twitter
	if tw == nil {
		s.log("warn", "no twitter account configured", nil)
		return model.StepResult{}, nil
	}
	if s.twitterBound() {
		s.log("info", "twitter account already bound", map[string]any{"twitterId": tw.User.ID})
		return model.StepResult{}, nil
	}

	twUser, err := s.twitter.RequestUser(ctx, tw, s.proxy)
	if err != nil {
		return model.StepResult{}, s.mapTwitterError(ctx, tw, err)
	}
	tw.User = &twUser
	if err := s.store.SaveTwitterUser(ctx, tw.ID, twUser); err != nil {
		return model.StepResult{}, err
	}
	if _, err := s.store.UpsertTwitterAccount(ctx, *tw); err != nil {
		return model.StepResult{}, err
	}

	// The fresh provider id may reveal the binding already exists.
	if s.twitterBound() {
		s.log("info", "twitter account already bound", map[string]any{"twitterId": twUser.ID})
		return model.StepResult{}, nil
	}

	if twUser.FollowersCount < s.minFollowers {
		return model.StepResult{}, accountErrorf(
			"necessary condition: twitter followers >= %d, yours: %d",
			s.minFollowers, twUser.FollowersCount)
	}

	authCode, err := s.twitter.OAuth2(ctx, tw, s.proxy, TwitterOAuth2Params)
	if err != nil {
		return model.StepResult{}, s.mapTwitterError(ctx, tw, err)
	}

	boundID, err := s.api.BindTwitter(ctx, s.account.Address, authCode)
	if err != nil {
		if platform.IsFollowersCondition(err) {
			return model.StepResult{}, accountError("twitter followers condition rejected by platform", err)
		}
		return model.StepResult{}, err
	}

	s.account.User.TwitterID = boundID
	if err := s.store.SaveRemoteUser(ctx, s.account.ID, *s.account.User); err != nil {
		return model.StepResult{Interacted: true}, err
	}
	s.log("info", "twitter bound", map[string]any{"twitterId": boundID})
	return model.StepResult{Interacted: true}, nil
}

// mapTwitterError turns credential failures into account-logic errors and
// records the credential health so later runs can report it without retrying.
func (s *Session) mapTwitterError(ctx context.Context, tw *model.TwitterAccount, err error) error {
	var status string
	var mapped error
	switch {
	case errors.Is(err, twitter.ErrBadToken):
		status, mapped = "BAD_TOKEN", accountError("twitter token invalid", err)
	case errors.Is(err, twitter.ErrSuspended):
		status, mapped = "SUSPENDED", accountError("twitter account suspended", err)
	case errors.Is(err, twitter.ErrLocked):
		status, mapped = "LOCKED", accountError("twitter account locked", err)
	default:
		return err
	}
	tw.Status = status
	if uerr := s.store.UpdateTwitterStatus(ctx, tw.ID, status); uerr != nil {
		s.log("warn", "twitter status not persisted", map[string]any{"error": uerr.Error()})
	}
	return mapped
}

func (s *Session) acceptInvite(ctx context.Context) (model.StepResult, error) {
	if s.account.User.Invited() {
		s.log("info", "account already invited", map[string]any{"inviterId": s.account.User.InviterID})
		return model.StepResult{}, nil
	}
	if s.account.InviteCode == "" {
		s.log("debug", "no referral invite code configured", nil)
		return model.StepResult{}, nil
	}

	inviterID, err := s.api.AcceptInvite(ctx, s.account.InviteCode)
	if err != nil {
		return model.StepResult{}, err
	}
	s.account.User.InviterID = inviterID
	if err := s.store.SaveRemoteUser(ctx, s.account.ID, *s.account.User); err != nil {
		return model.StepResult{Interacted: true}, err
	}
	s.log("info", "invite accepted", map[string]any{
		"inviterId":  inviterID,
		"inviteCode": s.account.InviteCode,
	})
	return model.StepResult{Interacted: true}, nil
}

func (s *Session) discordBound() bool {
	dc := s.account.Discord
	user := s.account.User
	return dc != nil && user != nil && dc.UserID != 0 && user.DiscordID == dc.UserID
}

func (s *Session) bindDiscord(ctx context.Context, flags *Flags) (model.StepResult, error) {
	dc := s.account.Discord
	if dc == nil {
		return model.StepResult{}, nil
	}
	if flags != nil && flags.InvitesPaused.Load() {
		s.log("warn", "discord invites paused for this run", nil)
		return model.StepResult{}, nil
	}
	if s.discordBound() {
		s.log("info", "discord account already bound", map[string]any{"discordId": dc.UserID})
		return model.StepResult{}, nil
	}

	join, err := s.store.GetGuildJoin(ctx, dc.ID, s.guildID)
	if err != nil {
		return model.StepResult{}, err
	}
	if join != nil && !join.Joined {
		s.log("warn", "joining guild failed before, not retrying", nil)
		return model.StepResult{}, nil
	}

	outcome, err := s.discord.JoinGuildAndAuthorize(ctx, dc, s.proxy)
	if err != nil {
		return model.StepResult{}, s.handleDiscordError(ctx, dc, flags, err)
	}
	if uerr := s.store.UpdateDiscordProfile(ctx, *dc); uerr != nil {
		return model.StepResult{}, uerr
	}
	if uerr := s.store.SetGuildJoin(ctx, outcome.Join); uerr != nil {
		return model.StepResult{}, uerr
	}

	boundID, err := s.api.BindDiscord(ctx, s.account.Address, outcome.AuthCode)
	if err != nil {
		return model.StepResult{Interacted: true}, err
	}
	s.account.User.DiscordID = boundID
	if err := s.store.SaveRemoteUser(ctx, s.account.ID, *s.account.User); err != nil {
		return model.StepResult{Interacted: true}, err
	}
	s.log("info", "discord bound", map[string]any{"discordId": boundID})
	return model.StepResult{Interacted: true}, nil
}

func (s *Session) handleDiscordError(ctx context.Context, dc *model.DiscordAccount, flags *Flags, err error) error {
	switch {
	case errors.Is(err, discord.ErrCaptchaRequired):
		// Once the provider starts asking for captchas it will keep doing so
		// for the rest of the run.
		if flags != nil {
			flags.InvitesPaused.Store(true)
		}
		return accountError("discord requires captcha", err)
	case errors.Is(err, discord.ErrBadToken), errors.Is(err, discord.ErrNoPhone):
		_ = s.store.UpdateDiscordProfile(ctx, *dc)
		_ = s.store.SetGuildJoin(ctx, model.GuildJoin{
			DiscordID: dc.ID,
			GuildID:   s.guildID,
			Joined:    false,
		})
		return accountError("discord account unusable", err)
	}
	return err
}
