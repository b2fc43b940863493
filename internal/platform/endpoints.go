package platform

import (
	"context"
	"fmt"
	"net/http"

	"mintforest/internal/model"
)

// Login exchanges a signed wallet message for a session and the fresh user
// snapshot. This is the only call that mutates the cached token.
func (c *Client) Login(ctx context.Context, address, message, signature string) (model.RemoteUser, error) {
	var result struct {
		AccessToken string   `json:"access_token"`
		User        wireUser `json:"user"`
	}
	err := c.call(ctx, http.MethodPost, "/api/tree/login", map[string]string{
		"address":   address,
		"signature": signature,
		"message":   message,
	}, &result, withoutAuth())
	if err != nil {
		return model.RemoteUser{}, err
	}
	c.token = result.AccessToken
	return result.User.toModel(), nil
}

// UserInfo refreshes the remote user snapshot.
func (c *Client) UserInfo(ctx context.Context) (model.RemoteUser, error) {
	var user wireUser
	if err := c.call(ctx, http.MethodGet, "/api/tree/user-info", nil, &user); err != nil {
		return model.RemoteUser{}, err
	}
	return user.toModel(), nil
}

// VerifyWallet submits the wallet for the platform's identity check.
func (c *Client) VerifyWallet(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/wallet/verify", nil, nil)
}

// BindTwitter submits an OAuth2 authorization code; the token travels in the
// query for this endpoint. Returns the bound provider user id.
func (c *Client) BindTwitter(ctx context.Context, address, authCode string) (int64, error) {
	var id int64
	err := c.call(ctx, http.MethodPost, "/api/twitter/verify", nil, &id,
		withQueryAuth(), withQuery(map[string]string{
			"address": address,
			"code":    authCode,
		}))
	return id, err
}

// BindDiscord submits an OAuth2 authorization code for the discord binding.
func (c *Client) BindDiscord(ctx context.Context, address, authCode string) (int64, error) {
	var id int64
	err := c.call(ctx, http.MethodPost, "/api/discord/verify", nil, &id,
		withQueryAuth(), withQuery(map[string]string{
			"address": address,
			"code":    authCode,
		}))
	return id, err
}

// AcceptInvite records the referral and returns the inviter's user id.
func (c *Client) AcceptInvite(ctx context.Context, inviteCode string) (int64, error) {
	var result struct {
		InviteID int64 `json:"inviteId"`
	}
	err := c.call(ctx, http.MethodGet, "/api/tree/invitation", nil, &result,
		withQueryAuth(), withQuery(map[string]string{"code": inviteCode}))
	return result.InviteID, err
}

// EnergyList enumerates claimable reward batches.
func (c *Client) EnergyList(ctx context.Context) ([]Energy, error) {
	var list []Energy
	err := c.call(ctx, http.MethodGet, "/api/tree/energy-list", nil, &list)
	return list, err
}

// ClaimEnergy claims one batch and returns the claimed amount. The claim id
// is derived from the batch amount.
func (c *Client) ClaimEnergy(ctx context.Context, e Energy) (int64, error) {
	var amount int64
	err := c.call(ctx, http.MethodPost, "/api/tree/claim", map[string]any{
		"uid":      e.UID,
		"amount":   e.Amount,
		"includes": e.Includes,
		"type":     e.Type,
		"freeze":   e.Freeze,
		"id":       fmt.Sprintf("%d_", e.Amount),
	}, &amount)
	return amount, err
}

// Assets enumerates reward containers.
func (c *Client) Assets(ctx context.Context) ([]Asset, error) {
	var list []Asset
	err := c.call(ctx, http.MethodGet, "/api/tree/asset", nil, &list)
	return list, err
}

// OpenBox opens one container and returns the contained amount.
func (c *Client) OpenBox(ctx context.Context, assetID int64) (int64, error) {
	var amount int64
	err := c.call(ctx, http.MethodPost, "/api/tree/open-box", map[string]any{
		"boxId": assetID,
	}, &amount)
	return amount, err
}

// TaskList enumerates remote tasks with their claimed state.
func (c *Client) TaskList(ctx context.Context) ([]Task, error) {
	var list []Task
	err := c.call(ctx, http.MethodGet, "/api/tree/task-list", nil, &list)
	return list, err
}

// SubmitTask completes one task and returns the rewarded amount.
func (c *Client) SubmitTask(ctx context.Context, taskID int64) (int64, error) {
	var result struct {
		Amount int64 `json:"amount"`
	}
	err := c.call(ctx, http.MethodPost, "/api/tree/task-submit", map[string]any{
		"id": taskID,
	}, &result)
	return result.Amount, err
}

// SubmitDiscordTask completes the discord binding task.
func (c *Client) SubmitDiscordTask(ctx context.Context) (int64, error) {
	var result struct {
		Amount int64 `json:"amount"`
	}
	err := c.call(ctx, http.MethodPost, "/api/tree/discord-task", nil, &result)
	return result.Amount, err
}

// Inject submits the accumulated balance into the tree.
func (c *Client) Inject(ctx context.Context, amount int64, address string) error {
	return c.call(ctx, http.MethodPost, "/api/tree/inject", map[string]any{
		"energy":  amount,
		"address": address,
	}, nil)
}
