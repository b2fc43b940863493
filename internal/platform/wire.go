package platform

import (
	"encoding/json"

	"mintforest/internal/model"
)

// wireUser mirrors the platform's user payload; TwitterID and DiscordID come
// back as either numbers or numeric strings depending on endpoint.
type wireUser struct {
	ID            int64       `json:"id"`
	TreeID        int64       `json:"treeId"`
	Address       string      `json:"address"`
	ENS           string      `json:"ens"`
	Energy        int64       `json:"energy"`
	Tree          int64       `json:"tree"`
	InviteID      int64       `json:"inviteId"`
	Code          string      `json:"code"`
	InvitePercent int         `json:"invitePercent"`
	Type          string      `json:"type"`
	NFTID         int64       `json:"nft_id"`
	NFTPass       int64       `json:"nft_pass"`
	StakeID       int64       `json:"stake_id"`
	SignIn        int64       `json:"signin"`
	Twitter       json.Number `json:"twitter"`
	Discord       json.Number `json:"discord"`
	Status        string      `json:"status"`
	CreatedAt     string      `json:"createdAt"`
}

func (w wireUser) toModel() model.RemoteUser {
	twitterID, _ := w.Twitter.Int64()
	discordID, _ := w.Discord.Int64()
	return model.RemoteUser{
		ID:             w.ID,
		TreeID:         w.TreeID,
		Address:        w.Address,
		ENSAddress:     w.ENS,
		Energy:         w.Energy,
		InjectedEnergy: w.Tree,
		InviterID:      w.InviteID,
		InviteCode:     w.Code,
		InvitePercent:  w.InvitePercent,
		Type:           w.Type,
		NFTID:          w.NFTID,
		NFTPass:        w.NFTPass,
		StakeID:        w.StakeID,
		SignIn:         w.SignIn,
		TwitterID:      twitterID,
		DiscordID:      discordID,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
	}
}

type Task struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	IsFreeze bool   `json:"isFreeze"`
	Spec     string `json:"spec"`
	Claimed  bool   `json:"claimed"`
}

// Energy is one claimable reward batch.
type Energy struct {
	UID      []string `json:"uid"`
	Amount   int64    `json:"amount"`
	Includes []int64  `json:"includes"`
	Type     string   `json:"type"`
	Freeze   bool     `json:"freeze"`
}

// Asset is an unopened reward container.
type Asset struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Opened bool   `json:"opened"`
}
