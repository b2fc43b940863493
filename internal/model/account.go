package model

import "time"

// Account is the unit of campaign work: one wallet identity plus its cached
// platform session and optional social sub-accounts. Associations are
// populated by explicit store queries, never lazily.
type Account struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Group      string `json:"group,omitempty"`
	PrivateKey string `json:"-"`
	Address    string `json:"address"`

	// AuthToken is empty when the account must log in. It is only valid
	// alongside the User snapshot produced by the same login; the two are
	// always refreshed together.
	AuthToken string `json:"-"`

	InviteCode         string `json:"inviteCode,omitempty"`
	VerificationFailed bool   `json:"verificationFailed,omitempty"`

	ProxyID string `json:"proxyId,omitempty"`
	Proxy   string `json:"proxy,omitempty"`

	User    *RemoteUser     `json:"user,omitempty"`
	Twitter *TwitterAccount `json:"twitter,omitempty"`
	Discord *DiscordAccount `json:"discord,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Proxy is an egress descriptor shared by reference across accounts and
// immutable after creation.
type Proxy struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
