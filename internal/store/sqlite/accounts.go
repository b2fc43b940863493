package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mintforest/internal/model"
)

// UpsertAccount inserts or updates an account keyed by wallet address. It only
// touches the account row itself; session state, snapshots and sub-accounts
// are written through their own dedicated methods so an import never clobbers
// them.
func (s *Store) UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.Address == "" {
		return model.Account{}, errors.New("address is required")
	}
	if acc.PrivateKey == "" {
		return model.Account{}, errors.New("private key is required")
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc.Address = strings.ToLower(acc.Address)
	acc.PrivateKey = strings.ToLower(acc.PrivateKey)
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, group_name, private_key, address, auth_token, invite_code, verification_failed, proxy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			group_name = excluded.group_name,
			invite_code = excluded.invite_code,
			proxy_id = excluded.proxy_id,
			updated_at = excluded.updated_at
	`, acc.ID, acc.Name, acc.Group, acc.PrivateKey, acc.Address, acc.AuthToken, acc.InviteCode, boolToInt(acc.VerificationFailed), acc.ProxyID, acc.CreatedAt.UnixMilli(), acc.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Account{}, err
	}

	return s.GetAccountByAddress(ctx, acc.Address)
}

// GetAccount returns the account with its snapshot, sub-accounts and proxy
// resolved by explicit lookups.
func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return s.getAccount(ctx, `WHERE a.id = ?`, id)
}

func (s *Store) GetAccountByAddress(ctx context.Context, address string) (model.Account, error) {
	return s.getAccount(ctx, `WHERE a.address = ?`, strings.ToLower(address))
}

const accountColumns = `a.id, a.name, a.group_name, a.private_key, a.address, a.auth_token, a.invite_code, a.verification_failed, a.proxy_id, COALESCE(p.url, ''), a.created_at, a.updated_at`

func (s *Store) getAccount(ctx context.Context, where string, args ...any) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a LEFT JOIN proxies p ON p.id = a.proxy_id
	`+where, args...)
	acc, err := scanAccount(row)
	if err != nil {
		return model.Account{}, err
	}
	if err := s.attachRelations(ctx, &acc); err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		acc                  model.Account
		verificationFailed   int
		createdMs, updatedMs int64
	)
	err := row.Scan(&acc.ID, &acc.Name, &acc.Group, &acc.PrivateKey, &acc.Address,
		&acc.AuthToken, &acc.InviteCode, &verificationFailed, &acc.ProxyID, &acc.Proxy,
		&createdMs, &updatedMs)
	if err != nil {
		return model.Account{}, err
	}
	acc.VerificationFailed = verificationFailed != 0
	acc.CreatedAt = time.UnixMilli(createdMs)
	acc.UpdatedAt = time.UnixMilli(updatedMs)
	return acc, nil
}

func (s *Store) attachRelations(ctx context.Context, acc *model.Account) error {
	user, err := s.getRemoteUser(ctx, acc.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil {
		acc.User = &user
	}

	tw, err := s.getTwitterAccount(ctx, acc.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil {
		acc.Twitter = &tw
	}

	dc, err := s.getDiscordAccount(ctx, acc.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil {
		acc.Discord = &dc
	}
	return nil
}

// ListGroups returns the distinct group labels present in storage.
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT group_name FROM accounts ORDER BY group_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListAccountsByGroups returns fully populated accounts for the given group
// labels in import order. Empty groups selects every account.
func (s *Store) ListAccountsByGroups(ctx context.Context, groups []string) ([]model.Account, error) {
	where := ""
	var args []any
	if len(groups) > 0 {
		placeholders := strings.Repeat("?,", len(groups))
		where = `WHERE a.group_name IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, g := range groups {
			args = append(args, g)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a LEFT JOIN proxies p ON p.id = a.proxy_id
		`+where+`
		ORDER BY a.created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.attachRelations(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveSession persists a new auth token together with the user snapshot the
// same login produced. The two always change as a unit.
func (s *Store) SaveSession(ctx context.Context, accountID, token string, user model.RemoteUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET auth_token = ?, updated_at = ? WHERE id = ?
	`, token, now, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save session: account %s not found", accountID)
	}
	if err := upsertRemoteUser(ctx, tx, accountID, user, now); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveRemoteUser refreshes the cached snapshot without touching the token.
func (s *Store) SaveRemoteUser(ctx context.Context, accountID string, user model.RemoteUser) error {
	return upsertRemoteUser(ctx, s.db, accountID, user, time.Now().UnixMilli())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRemoteUser(ctx context.Context, db execer, accountID string, u model.RemoteUser, nowMs int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO remote_users (account_id, user_id, tree_id, address, ens_address, energy, injected_energy, inviter_id, invite_code, invite_percent, type, nft_id, nft_pass, stake_id, signin, twitter_id, discord_id, status, remote_created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			user_id = excluded.user_id,
			tree_id = excluded.tree_id,
			address = excluded.address,
			ens_address = excluded.ens_address,
			energy = excluded.energy,
			injected_energy = excluded.injected_energy,
			inviter_id = excluded.inviter_id,
			invite_code = excluded.invite_code,
			invite_percent = excluded.invite_percent,
			type = excluded.type,
			nft_id = excluded.nft_id,
			nft_pass = excluded.nft_pass,
			stake_id = excluded.stake_id,
			signin = excluded.signin,
			twitter_id = excluded.twitter_id,
			discord_id = excluded.discord_id,
			status = excluded.status,
			remote_created_at = excluded.remote_created_at,
			updated_at = excluded.updated_at
	`, accountID, u.ID, u.TreeID, u.Address, u.ENSAddress, u.Energy, u.InjectedEnergy,
		u.InviterID, u.InviteCode, u.InvitePercent, u.Type, u.NFTID, u.NFTPass,
		u.StakeID, u.SignIn, u.TwitterID, u.DiscordID, u.Status, u.CreatedAt, nowMs)
	return err
}

func (s *Store) getRemoteUser(ctx context.Context, accountID string) (model.RemoteUser, error) {
	var u model.RemoteUser
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tree_id, address, ens_address, energy, injected_energy, inviter_id, invite_code, invite_percent, type, nft_id, nft_pass, stake_id, signin, twitter_id, discord_id, status, remote_created_at
		FROM remote_users WHERE account_id = ?
	`, accountID).Scan(&u.ID, &u.TreeID, &u.Address, &u.ENSAddress, &u.Energy,
		&u.InjectedEnergy, &u.InviterID, &u.InviteCode, &u.InvitePercent, &u.Type,
		&u.NFTID, &u.NFTPass, &u.StakeID, &u.SignIn, &u.TwitterID, &u.DiscordID,
		&u.Status, &u.CreatedAt)
	return u, err
}

// SetVerificationFailed marks the wallet as permanently rejected by the
// platform's verification so future runs skip the account early.
func (s *Store) SetVerificationFailed(ctx context.Context, accountID string, failed bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET verification_failed = ?, updated_at = ? WHERE id = ?
	`, boolToInt(failed), time.Now().UnixMilli(), accountID)
	return err
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
