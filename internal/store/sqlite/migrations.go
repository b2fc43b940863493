package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS proxies (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			group_name TEXT NOT NULL DEFAULT '',
			private_key TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL UNIQUE,
			auth_token TEXT NOT NULL DEFAULT '',
			invite_code TEXT NOT NULL DEFAULT '',
			verification_failed INTEGER NOT NULL DEFAULT 0,
			proxy_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_group ON accounts(group_name);`,
		`CREATE TABLE IF NOT EXISTS remote_users (
			account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL DEFAULT 0,
			tree_id INTEGER NOT NULL DEFAULT 0,
			address TEXT NOT NULL DEFAULT '',
			ens_address TEXT NOT NULL DEFAULT '',
			energy INTEGER NOT NULL DEFAULT 0,
			injected_energy INTEGER NOT NULL DEFAULT 0,
			inviter_id INTEGER NOT NULL DEFAULT 0,
			invite_code TEXT NOT NULL DEFAULT '',
			invite_percent INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL DEFAULT '',
			nft_id INTEGER NOT NULL DEFAULT 0,
			nft_pass INTEGER NOT NULL DEFAULT 0,
			stake_id INTEGER NOT NULL DEFAULT 0,
			signin INTEGER NOT NULL DEFAULT 0,
			twitter_id INTEGER NOT NULL DEFAULT 0,
			discord_id INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			remote_created_at TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS twitter_accounts (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
			auth_token TEXT NOT NULL DEFAULT '',
			ct0 TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			totp_secret TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'UNKNOWN',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS twitter_users (
			twitter_account_id TEXT PRIMARY KEY REFERENCES twitter_accounts(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			followers_count INTEGER NOT NULL DEFAULT 0,
			friends_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS discord_accounts (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
			auth_token TEXT NOT NULL DEFAULT '',
			user_id INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'UNKNOWN',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS guild_joins (
			discord_id TEXT NOT NULL REFERENCES discord_accounts(id) ON DELETE CASCADE,
			guild_id INTEGER NOT NULL,
			invite_code TEXT NOT NULL DEFAULT '',
			joined INTEGER NOT NULL,
			PRIMARY KEY (discord_id, guild_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
