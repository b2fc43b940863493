package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet wraps a secp256k1 key and exposes the one capability the pipeline
// needs: sign(message) -> signature.
type Wallet struct {
	privateKey string
	address    string
}

// FromKey parses a hex private key (with or without 0x prefix) and derives
// the lowercase address.
func FromKey(privateKey string) (*Wallet, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	key, err := crypto.HexToECDSA(normalized)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Wallet{
		privateKey: normalized,
		address:    strings.ToLower(addr.Hex()),
	}, nil
}

// Address returns the lowercase 0x-prefixed address.
func (w *Wallet) Address() string { return w.address }

// SignMessage signs a personal message (EIP-191) and returns the 0x-prefixed
// signature with the legacy 27/28 recovery id.
func (w *Wallet) SignMessage(message string) (string, error) {
	key, err := crypto.HexToECDSA(w.privateKey)
	if err != nil {
		return "", fmt.Errorf("wallet: parse key: %w", err)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("wallet: sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
