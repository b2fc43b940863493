package model

import "time"

// TwitterAccount carries the credentials of a twitter sub-account. User is
// the provider-side snapshot; once populated it is authoritative for
// eligibility checks and is refreshed in place, not replaced.
type TwitterAccount struct {
	ID         string `json:"id"`
	AccountID  string `json:"accountId"`
	AuthToken  string `json:"-"`
	CT0        string `json:"-"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"-"`
	Email      string `json:"email,omitempty"`
	TOTPSecret string `json:"-"`
	Status     string `json:"status,omitempty"`

	User *TwitterUser `json:"user,omitempty"`
}

type TwitterUser struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"name,omitempty"`
	Description    string    `json:"description,omitempty"`
	Location       string    `json:"location,omitempty"`
	FollowersCount int       `json:"followersCount"`
	FriendsCount   int       `json:"friendsCount"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// DiscordAccount carries the credentials of a discord sub-account.
type DiscordAccount struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	AuthToken string `json:"-"`
	UserID    int64  `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status,omitempty"`
}

// GuildJoin records the outcome of the most recent attempt to join a guild.
// Joined == false is treated as permanent: known-permanent failures are not
// retried.
type GuildJoin struct {
	DiscordID  string `json:"discordId"`
	GuildID    int64  `json:"guildId"`
	InviteCode string `json:"inviteCode,omitempty"`
	Joined     bool   `json:"joined"`
}
