package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"mintforest/internal/model"
)

func (s *Store) UpsertTwitterAccount(ctx context.Context, tw model.TwitterAccount) (model.TwitterAccount, error) {
	if tw.AccountID == "" {
		return model.TwitterAccount{}, errors.New("account id is required")
	}
	if tw.ID == "" {
		tw.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twitter_accounts (id, account_id, auth_token, ct0, username, password, email, totp_secret, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			auth_token = excluded.auth_token,
			ct0 = excluded.ct0,
			username = excluded.username,
			password = excluded.password,
			email = excluded.email,
			totp_secret = excluded.totp_secret,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, tw.ID, tw.AccountID, tw.AuthToken, tw.CT0, tw.Username, tw.Password, tw.Email, tw.TOTPSecret, statusOrUnknown(tw.Status), time.Now().UnixMilli())
	if err != nil {
		return model.TwitterAccount{}, err
	}
	return s.getTwitterAccount(ctx, tw.AccountID)
}

func (s *Store) getTwitterAccount(ctx context.Context, accountID string) (model.TwitterAccount, error) {
	var tw model.TwitterAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, auth_token, ct0, username, password, email, totp_secret, status
		FROM twitter_accounts WHERE account_id = ?
	`, accountID).Scan(&tw.ID, &tw.AccountID, &tw.AuthToken, &tw.CT0, &tw.Username,
		&tw.Password, &tw.Email, &tw.TOTPSecret, &tw.Status)
	if err != nil {
		return model.TwitterAccount{}, err
	}

	var (
		u         model.TwitterUser
		createdMs int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, username, name, description, location, followers_count, friends_count, created_at
		FROM twitter_users WHERE twitter_account_id = ?
	`, tw.ID).Scan(&u.ID, &u.Username, &u.Name, &u.Description, &u.Location,
		&u.FollowersCount, &u.FriendsCount, &createdMs)
	if err == nil {
		if createdMs > 0 {
			u.CreatedAt = time.UnixMilli(createdMs)
		}
		tw.User = &u
	} else if !errors.Is(err, sql.ErrNoRows) {
		return model.TwitterAccount{}, err
	}
	return tw, nil
}

// SaveTwitterUser refreshes the provider-side snapshot for a twitter
// sub-account in place.
func (s *Store) SaveTwitterUser(ctx context.Context, twitterAccountID string, u model.TwitterUser) error {
	var createdMs int64
	if !u.CreatedAt.IsZero() {
		createdMs = u.CreatedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twitter_users (twitter_account_id, user_id, username, name, description, location, followers_count, friends_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(twitter_account_id) DO UPDATE SET
			user_id = excluded.user_id,
			username = excluded.username,
			name = excluded.name,
			description = excluded.description,
			location = excluded.location,
			followers_count = excluded.followers_count,
			friends_count = excluded.friends_count,
			created_at = excluded.created_at
	`, twitterAccountID, u.ID, u.Username, u.Name, u.Description, u.Location,
		u.FollowersCount, u.FriendsCount, createdMs)
	return err
}

// UpdateTwitterStatus records the credential health reported by the twitter
// capability (GOOD, SUSPENDED, LOCKED, BAD_TOKEN).
func (s *Store) UpdateTwitterStatus(ctx context.Context, twitterAccountID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE twitter_accounts SET status = ?, updated_at = ? WHERE id = ?
	`, statusOrUnknown(status), time.Now().UnixMilli(), twitterAccountID)
	return err
}

func (s *Store) UpsertDiscordAccount(ctx context.Context, dc model.DiscordAccount) (model.DiscordAccount, error) {
	if dc.AccountID == "" {
		return model.DiscordAccount{}, errors.New("account id is required")
	}
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discord_accounts (id, account_id, auth_token, user_id, username, email, phone, name, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			auth_token = excluded.auth_token,
			updated_at = excluded.updated_at
	`, dc.ID, dc.AccountID, dc.AuthToken, dc.UserID, dc.Username, dc.Email, dc.Phone, dc.Name, statusOrUnknown(dc.Status), time.Now().UnixMilli())
	if err != nil {
		return model.DiscordAccount{}, err
	}
	return s.getDiscordAccount(ctx, dc.AccountID)
}

func (s *Store) getDiscordAccount(ctx context.Context, accountID string) (model.DiscordAccount, error) {
	var dc model.DiscordAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, auth_token, user_id, username, email, phone, name, status
		FROM discord_accounts WHERE account_id = ?
	`, accountID).Scan(&dc.ID, &dc.AccountID, &dc.AuthToken, &dc.UserID,
		&dc.Username, &dc.Email, &dc.Phone, &dc.Name, &dc.Status)
	return dc, err
}

// UpdateDiscordProfile stores the identity the discord capability observed
// after a successful gateway login.
func (s *Store) UpdateDiscordProfile(ctx context.Context, dc model.DiscordAccount) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE discord_accounts SET user_id = ?, username = ?, email = ?, phone = ?, name = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, dc.UserID, dc.Username, dc.Email, dc.Phone, dc.Name, statusOrUnknown(dc.Status), time.Now().UnixMilli(), dc.ID)
	return err
}

// SetGuildJoin records whether joining a guild succeeded. A recorded failure
// marks the join as permanently failed.
func (s *Store) SetGuildJoin(ctx context.Context, join model.GuildJoin) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_joins (discord_id, guild_id, invite_code, joined)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(discord_id, guild_id) DO UPDATE SET
			invite_code = excluded.invite_code,
			joined = excluded.joined
	`, join.DiscordID, join.GuildID, join.InviteCode, boolToInt(join.Joined))
	return err
}

// GetGuildJoin returns (nil, nil) when no join has ever been attempted.
func (s *Store) GetGuildJoin(ctx context.Context, discordID string, guildID int64) (*model.GuildJoin, error) {
	var (
		join   model.GuildJoin
		joined int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT discord_id, guild_id, invite_code, joined FROM guild_joins
		WHERE discord_id = ? AND guild_id = ?
	`, discordID, guildID).Scan(&join.DiscordID, &join.GuildID, &join.InviteCode, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	join.Joined = joined != 0
	return &join, nil
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
