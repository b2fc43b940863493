package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"mintforest/internal/logbus"
	"mintforest/internal/model"
	"mintforest/internal/store/sqlite"
	"mintforest/internal/wallet"
)

// header is the canonical column order of an import file. A header row is
// optional; when the first row's private key column does not parse it is
// treated as a header and skipped.
var header = []string{
	"group",
	"name",
	"proxy",
	"invite_code",
	"private_key",
	"twitter_auth_token",
	"twitter_email",
	"twitter_username",
	"twitter_password",
	"twitter_totp_secret",
	"discord_token",
}

const colPrivateKey = 4

type Result struct {
	Imported int
	Skipped  int
}

type Importer struct {
	store *sqlite.Store
	bus   *logbus.Bus
}

func New(store *sqlite.Store, bus *logbus.Bus) *Importer {
	return &Importer{store: store, bus: bus}
}

// ImportFile reads a CSV of accounts and upserts them keyed by wallet
// address. Re-importing an existing account refreshes its metadata and
// credentials without touching its session or progress.
func (i *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return i.Import(ctx, f)
}

func (i *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var res Result
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		if len(record) < len(header) {
			padded := make([]string, len(header))
			copy(padded, record)
			record = padded
		}
		for idx := range record {
			record[idx] = strings.TrimSpace(record[idx])
		}

		if record[colPrivateKey] == "" {
			res.Skipped++
			continue
		}
		if line == 1 && !validKey(record[colPrivateKey]) {
			// Header row.
			continue
		}

		if err := i.importRow(ctx, record); err != nil {
			i.log("warn", "row skipped", map[string]any{"line": line, "error": err.Error()})
			res.Skipped++
			continue
		}
		res.Imported++
	}
	return res, nil
}

func (i *Importer) importRow(ctx context.Context, record []string) error {
	signer, err := wallet.FromKey(record[colPrivateKey])
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}

	acc := model.Account{
		Group:      record[0],
		Name:       record[1],
		InviteCode: record[3],
		PrivateKey: record[colPrivateKey],
		Address:    signer.Address(),
	}

	if proxy := record[2]; proxy != "" {
		p, err := i.store.GetOrCreateProxy(ctx, proxy)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		acc.ProxyID = p.ID
	}

	acc, err = i.store.UpsertAccount(ctx, acc)
	if err != nil {
		return err
	}

	if token := record[5]; token != "" {
		tw := model.TwitterAccount{
			AccountID:  acc.ID,
			AuthToken:  token,
			Email:      record[6],
			Username:   record[7],
			Password:   record[8],
			TOTPSecret: record[9],
		}
		if acc.Twitter != nil {
			tw.ID = acc.Twitter.ID
		}
		if _, err := i.store.UpsertTwitterAccount(ctx, tw); err != nil {
			return fmt.Errorf("twitter: %w", err)
		}
	}

	if token := record[10]; token != "" {
		dc := model.DiscordAccount{
			AccountID: acc.ID,
			AuthToken: token,
		}
		if acc.Discord != nil {
			dc.ID = acc.Discord.ID
		}
		if _, err := i.store.UpsertDiscordAccount(ctx, dc); err != nil {
			return fmt.Errorf("discord: %w", err)
		}
	}

	i.log("info", "account imported", map[string]any{
		"account": acc.Name,
		"address": acc.Address,
		"group":   acc.Group,
	})
	return nil
}

func validKey(key string) bool {
	_, err := wallet.FromKey(key)
	return err == nil
}

func (i *Importer) log(level, msg string, fields map[string]any) {
	if i.bus != nil {
		i.bus.Log(level, msg, fields)
	}
}
