// Package auth establishes a logged-in session for one account, reusing
// saved cookies when they are still valid.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/eracle/linkreach/internal/browser"
	"github.com/eracle/linkreach/internal/config"
	"github.com/eracle/linkreach/internal/logging"
	"github.com/eracle/linkreach/internal/stealth"
)

type Auth struct {
	br      *browser.Browser
	cfg     *config.Config
	account config.Account
	log     *logging.Logger
}

func New(br *browser.Browser, cfg *config.Config, account config.Account) *Auth {
	return &Auth{
		br:      br,
		cfg:     cfg,
		account: account,
		log:     logging.New(cfg.Logging.Level).With("module", "auth", "handle", account.Handle),
	}
}

// EnsureLoggedIn validates a cookie session or performs a fresh login.
func (a *Auth) EnsureLoggedIn(ctx context.Context) error {
	p, err := a.br.NewPage(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := a.loadCookies(p); err == nil {
		if a.validateSession(p) {
			a.log.Info("session validated using cookies")
			return nil
		}
	}
	if err := a.login(ctx, p); err != nil {
		return err
	}
	if err := a.saveCookies(p); err != nil {
		a.log.Warn("save cookies failed", "err", err)
	}
	return nil
}

// credentials resolves the account's login from the environment, trying
// the handle-suffixed variables first.
func (a *Auth) credentials() (string, string, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(a.account.Handle, "-", "_"))
	email := os.Getenv("LINKEDIN_EMAIL_" + suffix)
	pass := os.Getenv("LINKEDIN_PASSWORD_" + suffix)
	if email == "" {
		email = os.Getenv("LINKEDIN_EMAIL")
		pass = os.Getenv("LINKEDIN_PASSWORD")
	}
	if email == "" || pass == "" {
		return "", "", fmt.Errorf("missing LINKEDIN_EMAIL/LINKEDIN_PASSWORD env for account %q", a.account.Handle)
	}
	return email, pass, nil
}

func (a *Auth) login(ctx context.Context, p *rod.Page) error {
	email, pass, err := a.credentials()
	if err != nil {
		return err
	}
	a.log.Info("attempting login", "email", email)

	if err := p.Navigate(a.cfg.LinkedIn.BaseURL + "login"); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("login page load: %w", err)
	}
	stealth.SleepRandom(800, 1500)

	usernameInput, err := p.Timeout(5 * time.Second).Element("input#username")
	if err != nil {
		// Some regions land on the uas variant.
		if err := p.Navigate(a.cfg.LinkedIn.BaseURL + "uas/login"); err != nil {
			return fmt.Errorf("navigate to alternative login: %w", err)
		}
		_ = p.WaitLoad()
		usernameInput, err = p.Timeout(5 * time.Second).Element("input#username")
		if err != nil {
			return browser.ScreenshotOnError(p, "login_page_fail", fmt.Errorf("username input not found: %w", err))
		}
	}

	if err := stealth.Type(usernameInput, email); err != nil {
		return fmt.Errorf("input email: %w", err)
	}
	passwordInput, err := p.Timeout(5 * time.Second).Element("input#password")
	if err != nil {
		return fmt.Errorf("password input not found: %w", err)
	}
	if err := stealth.Type(passwordInput, pass); err != nil {
		return fmt.Errorf("input password: %w", err)
	}

	submitBtn, err := p.Timeout(5 * time.Second).Element("button[type='submit']")
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := stealth.Click(p, submitBtn); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	time.Sleep(5 * time.Second)

	if a.loggedInMarkers(p) {
		a.log.Info("login successful")
		return nil
	}

	if _, err := p.Timeout(2 * time.Second).Element("[data-test-id='checkpoint'], .challenge-dialog"); err == nil {
		_ = browser.ScreenshotOnError(p, "login_checkpoint", errors.New("checkpoint"))
		return errors.New("login blocked by checkpoint/verification - log in manually in a browser first")
	}
	if errEl, err := p.Timeout(2 * time.Second).Element(".alert--error, .form__label--error"); err == nil {
		if msg, _ := errEl.Text(); msg != "" {
			return fmt.Errorf("login failed: %s", msg)
		}
	}
	return browser.ScreenshotOnError(p, "login_fail", errors.New("login failed: could not verify session"))
}

// loggedInMarkers checks the signals that only appear for an
// authenticated member.
func (a *Auth) loggedInMarkers(p *rod.Page) bool {
	url := p.MustInfo().URL
	if strings.Contains(url, "/feed") {
		return true
	}
	for _, sel := range []string{
		"input[placeholder*='Search'], input[aria-label*='Search']",
		"[class*='global-nav']",
		"a[href*='/feed']",
	} {
		if _, err := p.Timeout(3 * time.Second).Element(sel); err == nil {
			return true
		}
	}
	return false
}

func (a *Auth) validateSession(p *rod.Page) bool {
	if err := p.Navigate(a.cfg.LinkedIn.BaseURL + "feed/"); err != nil {
		return false
	}
	if err := p.WaitLoad(); err != nil {
		return false
	}
	_, err := p.Timeout(5 * time.Second).Element("a[href*='/feed/']")
	return err == nil
}

func (a *Auth) cookiesPath() string {
	if a.account.CookiePath != "" {
		return a.account.CookiePath
	}
	return filepath.Join(".cache", "cookies-"+a.account.Handle+".json")
}

func (a *Auth) loadCookies(p *rod.Page) error {
	b, err := os.ReadFile(a.cookiesPath())
	if err != nil {
		return err
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(b, &cookies); err != nil {
		return err
	}
	for _, c := range cookies {
		_, _ = proto.NetworkSetCookie{Domain: c.Domain, Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure}.Call(p)
	}
	return nil
}

func (a *Auth) saveCookies(p *rod.Page) error {
	cookies, err := proto.StorageGetCookies{}.Call(p.Timeout(20 * time.Second))
	if err != nil {
		return err
	}
	b, _ := json.MarshalIndent(cookies.Cookies, "", "  ")
	_ = os.MkdirAll(filepath.Dir(a.cookiesPath()), 0o755)
	return os.WriteFile(a.cookiesPath(), b, 0o644)
}
