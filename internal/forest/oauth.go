package forest

import (
	"mintforest/internal/social/discord"
	"mintforest/internal/social/twitter"
)

// OAuth2 parameters the platform's frontend uses for its bindings.
var (
	TwitterOAuth2Params = twitter.OAuth2Params{
		ClientID:            "enpfUjhndkdrdHhld29aTW96eGM6MTpjaQ",
		State:               "mintchain",
		CodeChallenge:       "mintchain",
		CodeChallengeMethod: "plain",
		Scope:               "tweet.read users.read follows.read offline.access",
		ResponseType:        "code",
		RedirectURI:         "https://www.mintchain.io/mint-forest",
	}

	DiscordOAuth2Request = discord.OAuth2Request{
		ApplicationID: 1214172619339735071,
		ResponseType:  "code",
		RedirectURI:   "https://www.mintchain.io/mint-forest",
		Scopes:        []string{"identify", "guilds", "guilds.members.read"},
	}
)

// discordBindTaskID is the remote task rewarded for a discord binding.
const discordBindTaskID = 2
