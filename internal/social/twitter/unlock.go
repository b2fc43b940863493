package twitter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Arkose public key of the account-access challenge.
const unlockSiteKey = "0152B4EB-D2DC-460A-89A1-629838B529C9"

const capsolverURL = "https://api.capsolver.com"

var (
	authenticityTokenRe = regexp.MustCompile(`name="authenticity_token"\s+value="([^"]+)"`)
	assignmentTokenRe   = regexp.MustCompile(`name="assignment_token"\s+value="([^"]+)"`)
)

// ErrUnlockFailed means the challenge flow ran out of attempts without the
// lock clearing.
var ErrUnlockFailed = errors.New("twitter: unlock failed")

type UnlockOptions struct {
	CapsolverKey string
	// Attempts bounds the challenge rounds; <= 0 means 5.
	Attempts int
}

// Unlock walks the account-access challenge: load the page, solve the arkose
// captcha through capsolver, submit, repeat until the lock clears or the
// attempts run out.
func (c *Client) Unlock(ctx context.Context, opts UnlockOptions) error {
	if opts.CapsolverKey == "" {
		return fmt.Errorf("%w: no capsolver key configured", ErrUnlockFailed)
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 5
	}

	solver := resty.New().SetBaseURL(capsolverURL).SetTimeout(2 * time.Minute)

	for i := 0; i < attempts; i++ {
		resp, err := c.http.R().SetContext(ctx).Get("/account/access")
		if err != nil {
			return err
		}
		c.refreshCSRF(resp)
		body := string(resp.Body())

		authenticity := firstMatch(authenticityTokenRe, body)
		assignment := firstMatch(assignmentTokenRe, body)
		if authenticity == "" || assignment == "" {
			// No challenge form left: the lock is gone.
			c.account.Status = "GOOD"
			return nil
		}

		form := map[string]string{
			"authenticity_token": authenticity,
			"assignment_token":   assignment,
			"lang":               "en",
			"flow":               "",
		}
		if strings.Contains(body, "arkose_iframe") || strings.Contains(body, unlockSiteKey) {
			token, err := solveFunCaptcha(ctx, solver, opts.CapsolverKey)
			if err != nil {
				return err
			}
			form["verification_string"] = token
			form["language_code"] = "en"
		}

		resp, err = c.http.R().
			SetContext(ctx).
			SetFormData(form).
			Post("/account/access")
		if err != nil {
			return err
		}
		c.refreshCSRF(resp)
	}
	return ErrUnlockFailed
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

type capsolverTask struct {
	ClientKey string         `json:"clientKey"`
	Task      map[string]any `json:"task,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
}

type capsolverResult struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

func solveFunCaptcha(ctx context.Context, solver *resty.Client, clientKey string) (string, error) {
	var created capsolverResult
	resp, err := solver.R().
		SetContext(ctx).
		SetBody(capsolverTask{
			ClientKey: clientKey,
			Task: map[string]any{
				"type":             "FunCaptchaTaskProxyLess",
				"websiteURL":       "https://x.com/account/access",
				"websitePublicKey": unlockSiteKey,
			},
		}).
		SetResult(&created).
		Post("/createTask")
	if err != nil {
		return "", err
	}
	if resp.IsError() || created.ErrorID != 0 {
		return "", fmt.Errorf("capsolver: create task: %s", created.ErrorDescription)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(3 * time.Second):
		}

		var result capsolverResult
		resp, err := solver.R().
			SetContext(ctx).
			SetBody(capsolverTask{ClientKey: clientKey, TaskID: created.TaskID}).
			SetResult(&result).
			Post("/getTaskResult")
		if err != nil {
			return "", err
		}
		if resp.IsError() || result.ErrorID != 0 {
			return "", fmt.Errorf("capsolver: task result: %s", result.ErrorDescription)
		}
		if result.Status == "ready" {
			return result.Solution.Token, nil
		}
	}
}
