package twitter

import (
	"context"
	"fmt"
	"net/http"
)

// OAuth2Params describe the relying party's authorization request, mirroring
// the query the platform's frontend sends to twitter.
type OAuth2Params struct {
	ClientID            string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	ResponseType        string
	RedirectURI         string
}

func (p OAuth2Params) query() map[string]string {
	return map[string]string{
		"client_id":             p.ClientID,
		"state":                 p.State,
		"code_challenge":        p.CodeChallenge,
		"code_challenge_method": p.CodeChallengeMethod,
		"scope":                 p.Scope,
		"response_type":         p.ResponseType,
		"redirect_uri":          p.RedirectURI,
	}
}

// OAuth2 runs the two-leg authorize flow and returns the authorization code
// the platform exchanges server-side.
func (c *Client) OAuth2(ctx context.Context, params OAuth2Params) (string, error) {
	var authPage struct {
		AuthCode string `json:"auth_code"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params.query()).
		SetResult(&authPage).
		Get("/i/api/2/oauth2/authorize")
	if err != nil {
		return "", err
	}
	c.refreshCSRF(resp)
	if resp.IsError() {
		return "", c.classify(resp)
	}
	if authPage.AuthCode == "" {
		return "", fmt.Errorf("twitter: authorize returned no auth_code")
	}

	var approval struct {
		RedirectURI string `json:"redirect_uri"`
	}
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"approval": "true",
			"code":     authPage.AuthCode,
		}).
		SetResult(&approval).
		Post("/i/api/2/oauth2/authorize")
	if err != nil {
		return "", err
	}
	c.refreshCSRF(resp)
	if resp.IsError() {
		return "", c.classify(resp)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("twitter: oauth2 approval failed (status %d)", resp.StatusCode())
	}
	return authPage.AuthCode, nil
}
