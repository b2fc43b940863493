package model

// RemoteUser is the cached server-side snapshot for an account. It is
// refreshed after every call that returns fresh user data and never mutated
// speculatively.
type RemoteUser struct {
	ID     int64 `json:"id"`
	TreeID int64 `json:"treeId"`

	Address    string `json:"address"`
	ENSAddress string `json:"ens,omitempty"`

	// Energy is the claimable reward balance; InjectedEnergy is what has
	// already been submitted into the tree.
	Energy         int64 `json:"energy"`
	InjectedEnergy int64 `json:"tree"`

	// InviterID is zero until an invite has been accepted.
	InviterID     int64  `json:"inviteId"`
	InviteCode    string `json:"code,omitempty"`
	InvitePercent int    `json:"invitePercent"`

	Type    string `json:"type"`
	NFTID   int64  `json:"nftId"`
	NFTPass int64  `json:"nftPass"`
	StakeID int64  `json:"stakeId"`
	SignIn  int64  `json:"signin"`

	// TwitterID and DiscordID are the provider ids the platform has recorded
	// for this user; zero means unbound. Binding state is derived by
	// comparing them against the sub-account's own snapshot id.
	TwitterID int64 `json:"twitterId"`
	DiscordID int64 `json:"discordId"`

	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// Verified reports whether the wallet passed the platform's identity check.
func (u *RemoteUser) Verified() bool {
	return u != nil && u.Status == "verified"
}

// Invited reports whether an inviter is already recorded.
func (u *RemoteUser) Invited() bool {
	return u != nil && u.InviterID != 0
}
