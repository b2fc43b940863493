package forest

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"mintforest/internal/logbus"
	"mintforest/internal/model"
	"mintforest/internal/platform"
	"mintforest/internal/store/sqlite"
	"mintforest/internal/wallet"
)

// Flags carries run-scoped switches shared by every session of one campaign
// run. It replaces what would otherwise be process-wide mutable state.
type Flags struct {
	// InvitesPaused stops further discord guild joins for the rest of the
	// run, set when the provider starts demanding captchas.
	InvitesPaused atomic.Bool
}

// Options wires a session factory. Platform builds a fresh API client per
// account so proxies stay per-account.
type Options struct {
	Store    *sqlite.Store
	Bus      *logbus.Bus
	Platform func(acc model.Account) *platform.Client
	Twitter  TwitterProvider
	Discord  DiscordProvider

	MinFollowers   int
	GuildID        int64
	IgnoredTaskIDs map[int64]bool
	// GlobalProxy is used for accounts that have no proxy of their own, by
	// the platform client and the social capabilities alike.
	GlobalProxy string
}

// Session drives one account through the step pipeline. Every step is
// idempotent: it checks state first and reports interacted=false when the
// goal is already satisfied.
type Session struct {
	store   *sqlite.Store
	bus     *logbus.Bus
	api     *platform.Client
	twitter TwitterProvider
	discord DiscordProvider

	minFollowers   int
	guildID        int64
	ignoredTaskIDs map[int64]bool
	proxy          string

	account *model.Account
	signer  *wallet.Wallet
}

func NewSession(opts Options, acc model.Account) (*Session, error) {
	signer, err := wallet.FromKey(acc.PrivateKey)
	if err != nil {
		return nil, err
	}
	minFollowers := opts.MinFollowers
	if minFollowers <= 0 {
		minFollowers = 10
	}
	proxy := acc.Proxy
	if proxy == "" {
		proxy = opts.GlobalProxy
	}
	api := opts.Platform(acc)
	api.SetToken(acc.AuthToken)
	return &Session{
		store:          opts.Store,
		bus:            opts.Bus,
		api:            api,
		twitter:        opts.Twitter,
		discord:        opts.Discord,
		minFollowers:   minFollowers,
		guildID:        opts.GuildID,
		ignoredTaskIDs: opts.IgnoredTaskIDs,
		proxy:          proxy,
		account:        &acc,
		signer:         signer,
	}, nil
}

// Account returns the session's working copy of the account.
func (s *Session) Account() *model.Account { return s.account }

func (s *Session) log(level, msg string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["accountId"] = s.account.ID
	if s.account.Name != "" {
		fields["account"] = s.account.Name
	}
	s.bus.Log(level, msg, fields)
}

// Login is a no-op when a cached token exists.
func (s *Session) Login(ctx context.Context) (model.StepResult, error) {
	if s.api.Token() != "" {
		s.log("info", "using saved auth token", nil)
		return model.StepResult{}, nil
	}
	return s.Relogin(ctx)
}

// Relogin always signs a fresh login message and persists the new token
// together with the user snapshot it came with.
func (s *Session) Relogin(ctx context.Context) (model.StepResult, error) {
	s.api.SetToken("")

	nonce := 1_000_000 + rand.Intn(9_000_000)
	message := fmt.Sprintf("You are participating in the Mint Forest event: \n %s\n\nNonce: %d",
		s.signer.Address(), nonce)
	signature, err := s.signer.SignMessage(message)
	if err != nil {
		return model.StepResult{}, err
	}

	user, err := s.api.Login(ctx, s.signer.Address(), message, signature)
	if err != nil {
		return model.StepResult{}, err
	}
	s.log("info", "logged in", map[string]any{"userId": user.ID})

	s.account.AuthToken = s.api.Token()
	s.account.User = &user
	if err := s.store.SaveSession(ctx, s.account.ID, s.account.AuthToken, user); err != nil {
		return model.StepResult{}, err
	}
	return model.StepResult{Interacted: true}, nil
}

// withRelogin intercepts an auth-expired failure, performs exactly one fresh
// login and re-invokes the step once. A second failure propagates unmodified.
func (s *Session) withRelogin(ctx context.Context, step func(context.Context) (model.StepResult, error)) (model.StepResult, error) {
	res, err := step(ctx)
	if err == nil || !platform.IsAuthExpired(err) {
		return res, err
	}
	rres, rerr := s.Relogin(ctx)
	if rerr != nil {
		return model.StepResult{}, rerr
	}
	res, err = step(ctx)
	return rres.Or(res), err
}

// RefreshUser fetches a fresh snapshot and persists it.
func (s *Session) RefreshUser(ctx context.Context) error {
	user, err := s.api.UserInfo(ctx)
	if err != nil {
		return err
	}
	s.account.User = &user
	return s.store.SaveRemoteUser(ctx, s.account.ID, user)
}

// Run executes the pipeline in canonical order, OR-accumulating interaction.
// The first error stops the run; already-committed step state stays
// persisted.
func (s *Session) Run(ctx context.Context, flags *Flags) (model.StepResult, error) {
	steps := []struct {
		name string
		fn   func(context.Context) (model.StepResult, error)
	}{
		{"login", s.Login},
		{"verify-wallet", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.verifyWallet)
		}},
		{"bind-twitter", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.bindTwitter)
		}},
		{"accept-invite", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.acceptInvite)
		}},
		{"bind-discord", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, func(ctx context.Context) (model.StepResult, error) {
				return s.bindDiscord(ctx, flags)
			})
		}},
		{"complete-tasks", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.completeTasks)
		}},
		{"claim-energy", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.claimEnergy)
		}},
		{"inject", func(ctx context.Context) (model.StepResult, error) {
			return s.withRelogin(ctx, s.injectAll)
		}},
	}

	var total model.StepResult
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := step.fn(ctx)
		total = total.Or(res)
		if err != nil {
			return total, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return total, nil
}
