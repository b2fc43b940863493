package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrInteractionRequired is returned when the provider page asks for
// something only a human can supply (captcha, password re-entry). The runner
// treats it as an account-logic condition.
var ErrInteractionRequired = errors.New("browser: provider requires manual interaction")

// Headless defaults to true; set MINTFOREST_BROWSER_HEADLESS=0 to watch the
// flow locally.
var headless = func() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MINTFOREST_BROWSER_HEADLESS")))
	return !(v == "0" || v == "false" || v == "no" || v == "off")
}()

// Flow is a browser-driven OAuth2 fallback: it loads the provider's
// authorize URL with the account's session cookies and waits for the
// redirect back to the relying party to extract the authorization code.
type Flow struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewFlow() *Flow { return &Flow{} }

func (f *Flow) getBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().Headless(headless)
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, err
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, err
	}

	f.launcher = l
	f.browser = b
	return f.browser, nil
}

func (f *Flow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.browser != nil {
		firstErr = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return firstErr
}

// ObtainAuthorizationCode navigates authorizeURL in a fresh incognito
// context carrying cookies, then watches navigation until the location
// starts with redirectPrefix and returns its code query parameter.
func (f *Flow) ObtainAuthorizationCode(ctx context.Context, authorizeURL string, cookies []*http.Cookie, redirectPrefix string) (string, error) {
	b, err := f.getBrowser()
	if err != nil {
		return "", err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return "", err
	}
	defer func() { _ = incognito.Close() }()

	var page *rod.Page
	if err := rod.Try(func() {
		page = stealth.MustPage(incognito)
	}); err != nil {
		return "", err
	}
	page = page.Context(ctx)

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	origin, err := url.Parse(authorizeURL)
	if err != nil {
		return "", fmt.Errorf("browser: bad authorize url: %w", err)
	}
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = origin.Hostname()
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	if len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			return "", err
		}
	}

	if err := page.Navigate(authorizeURL); err != nil {
		return "", err
	}

	deadline := time.Now().Add(90 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return "", ErrInteractionRequired
		}

		info, err := page.Info()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(info.URL, redirectPrefix) {
			u, err := url.Parse(info.URL)
			if err != nil {
				return "", err
			}
			code := u.Query().Get("code")
			if code == "" {
				return "", fmt.Errorf("browser: redirect carries no code: %s", info.URL)
			}
			return code, nil
		}

		// Authorize pages expose a single consent button; click it when it
		// shows up and keep polling for the redirect.
		if el, _ := page.Timeout(500 * time.Millisecond).Element(`[data-testid="OAuth_Consent_Button"], button[type="submit"]`); el != nil {
			_ = el.Click(proto.InputMouseButtonLeft, 1)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
