package discord

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// OAuth2Request mirrors the authorization the platform's frontend asks
// discord for.
type OAuth2Request struct {
	ApplicationID int64
	ResponseType  string
	RedirectURI   string
	Scopes        []string
}

// Authorize approves the OAuth2 grant and extracts the authorization code
// from the redirect location.
func (c *Client) Authorize(ctx context.Context, req OAuth2Request) (string, error) {
	var out struct {
		Location string `json:"location"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_id":     strconv.FormatInt(req.ApplicationID, 10),
			"response_type": req.ResponseType,
			"redirect_uri":  req.RedirectURI,
			"scope":         strings.Join(req.Scopes, " "),
		}).
		SetBody(map[string]any{
			"authorize":   true,
			"permissions": "0",
		}).
		SetResult(&out).
		Post("/api/v9/oauth2/authorize")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", c.classify(resp)
	}

	loc, err := url.Parse(out.Location)
	if err != nil {
		return "", fmt.Errorf("discord: bad oauth2 location %q: %w", out.Location, err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("discord: oauth2 location carries no code: %s", out.Location)
	}
	return code, nil
}
