// Package actions is the browser-backed implementation of the campaign
// action collaborator. Every method drives one logged-in page, paced like
// a person, and reports failures as models.ActionError so the state
// machine can tell retryable from terminal.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/eracle/linkreach/internal/browser"
	"github.com/eracle/linkreach/internal/config"
	"github.com/eracle/linkreach/internal/input"
	"github.com/eracle/linkreach/internal/logging"
	"github.com/eracle/linkreach/internal/models"
	"github.com/eracle/linkreach/internal/resolver"
	"github.com/eracle/linkreach/internal/stealth"
	"github.com/eracle/linkreach/internal/template"
)

const profileEndpoint = "/voyager/api/identity/dash/profiles" +
	"?decorationId=com.linkedin.voyager.dash.deco.identity.profile.FullProfileWithEntities-91" +
	"&q=memberIdentity&memberIdentity="

type Service struct {
	br  *browser.Browser
	cfg *config.Config
	log *logging.Logger

	page *rod.Page

	// Per-process daily caps; hitting one reports a throttled condition
	// so the profile simply waits for the next tick.
	connectionsSent int
	messagesSent    int
}

func New(br *browser.Browser, cfg *config.Config, handle string) *Service {
	return &Service{br: br, cfg: cfg, log: logging.New(cfg.Logging.Level).With("module", "actions", "handle", handle)}
}

func (s *Service) Close() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
}

// currentPage reuses one page for the whole run; the browser context is a
// single shared resource per account.
func (s *Service) currentPage(ctx context.Context) (*rod.Page, error) {
	if s.page != nil {
		return s.page, nil
	}
	p, err := s.br.NewPage(ctx)
	if err != nil {
		return nil, models.Recoverable(err)
	}
	s.page = p
	return p, nil
}

// visit navigates to url and settles in. Navigation errors are
// recoverable; a removed or restricted profile page is fatal.
func (s *Service) visit(ctx context.Context, url string) (*rod.Page, error) {
	p, err := s.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Navigate(url); err != nil {
		return nil, models.Recoverable(fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return nil, models.Recoverable(fmt.Errorf("load %s: %w", url, err))
	}
	if browser.HasElementWithText(p, "profile is not available") ||
		browser.HasElementWithText(p, "Page not found") {
		return nil, models.Fatal(fmt.Errorf("profile gone: %s", url))
	}
	stealth.SettleIn(p)
	return p, nil
}

// Enrich fetches the member's normalized API payload through the page's
// own session and resolves it to a flat record. Resolution faults are
// retryable: the payload may be complete next time.
func (s *Service) Enrich(ctx context.Context, url string) (*models.ResolvedProfile, json.RawMessage, error) {
	publicID, err := input.PublicIdentifier(url)
	if err != nil {
		return nil, nil, models.Fatal(err)
	}
	p, err := s.visit(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	stealth.Scroll(p)

	raw, err := s.fetchProfilePayload(p, publicID)
	if err != nil {
		return nil, nil, err
	}
	structured, err := resolver.ResolveProfile(raw, publicID)
	if err != nil {
		return nil, nil, models.Recoverable(err)
	}
	s.log.Info("profile enriched", "url", url, "name", structured.FullName)
	return structured, raw, nil
}

// fetchProfilePayload calls the profile endpoint from inside the page so
// the request carries the session's cookies and fingerprint.
func (s *Service) fetchProfilePayload(p *rod.Page, publicID string) (json.RawMessage, error) {
	csrf, err := s.csrfToken(p)
	if err != nil {
		return nil, models.Recoverable(fmt.Errorf("csrf token: %w", err))
	}
	res, err := p.Eval(`async (url, csrf) => {
		const r = await fetch(url, {
			headers: {
				'accept': 'application/vnd.linkedin.normalized+json+2.1',
				'csrf-token': csrf,
				'x-li-lang': 'en_US',
				'x-restli-protocol-version': '2.0.0',
			},
		});
		return { status: r.status, body: await r.text() };
	}`, profileEndpoint+publicID, csrf)
	if err != nil {
		return nil, models.Recoverable(fmt.Errorf("profile fetch: %w", err))
	}
	status := res.Value.Get("status").Int()
	body := res.Value.Get("body").Str()
	switch {
	case status == 401:
		return nil, models.Fatal(fmt.Errorf("profile fetch unauthorized (session expired or blocked)"))
	case status == 403 || status == 404:
		return nil, models.Fatal(fmt.Errorf("profile inaccessible (status %d)", status))
	case status != 200:
		return nil, models.Recoverable(fmt.Errorf("profile fetch status %d", status))
	}
	return json.RawMessage(body), nil
}

// csrfToken mirrors the JSESSIONID cookie, which the API expects back as
// csrf-token.
func (s *Service) csrfToken(p *rod.Page) (string, error) {
	cookies, err := proto.NetworkGetCookies{}.Call(p)
	if err != nil {
		return "", err
	}
	for _, c := range cookies.Cookies {
		if c.Name == "JSESSIONID" {
			return strings.Trim(c.Value, `"`), nil
		}
	}
	return "", fmt.Errorf("no JSESSIONID cookie; not logged in?")
}

// SendConnectionRequest opens the profile and sends an invite with a
// rendered note.
func (s *Service) SendConnectionRequest(ctx context.Context, url string, profile *models.ResolvedProfile) error {
	if s.connectionsSent >= s.cfg.Limits.MaxConnectionsPerDay {
		return models.Throttled(fmt.Errorf("daily connection cap reached (%d)", s.connectionsSent))
	}
	note, err := template.RenderNote(s.cfg.Templates.ConnectionNote, profile)
	if err != nil {
		return models.Fatal(fmt.Errorf("render connection note: %w", err))
	}
	p, err := s.visit(ctx, url)
	if err != nil {
		return err
	}
	stealth.Scroll(p)

	connectBtn, err := s.findConnectButton(p)
	if err != nil {
		_ = browser.ScreenshotOnError(p, "connect_button_fail", err)
		return models.Recoverable(fmt.Errorf("connect button not found: %w", err))
	}
	if err := stealth.Click(p, connectBtn); err != nil {
		return models.Recoverable(fmt.Errorf("click connect: %w", err))
	}
	stealth.SleepRandom(800, 1500)

	// Add the note when the dialog offers it.
	if addNoteBtn, err := p.Timeout(5*time.Second).ElementR("button", "Add a note"); err == nil {
		_ = stealth.Click(p, addNoteBtn)
		stealth.SleepRandom(600, 1100)
		if textarea, err := p.Timeout(5 * time.Second).Element(`textarea[name="message"]`); err == nil {
			if err := stealth.Type(textarea, note); err != nil {
				return models.Recoverable(fmt.Errorf("type note: %w", err))
			}
		}
	}

	sendBtn, err := s.findSendButton(p)
	if err != nil {
		_ = browser.ScreenshotOnError(p, "send_button_fail", err)
		return models.Recoverable(fmt.Errorf("send button not found: %w", err))
	}
	stealth.SleepRandom(300, 700)
	if err := stealth.Click(p, sendBtn); err != nil {
		return models.Recoverable(fmt.Errorf("click send: %w", err))
	}
	stealth.ThinkTime()

	s.connectionsSent++
	s.log.Info("connection request sent", "url", url)
	return nil
}

func (s *Service) findConnectButton(p *rod.Page) (*rod.Element, error) {
	if btn, err := p.Timeout(5 * time.Second).Element(`button[aria-label*="Invite"][aria-label*="connect"]`); err == nil {
		return btn, nil
	}
	if btn, err := p.Timeout(5*time.Second).ElementR("button", "^Connect$"); err == nil {
		return btn, nil
	}
	// Connect may hide behind the More dropdown.
	moreBtn, err := p.Timeout(3*time.Second).ElementR("button", "More")
	if err != nil {
		return nil, err
	}
	_ = stealth.Click(p, moreBtn)
	stealth.SleepRandom(600, 1100)
	return p.Timeout(5*time.Second).ElementR("div", "^Connect$")
}

func (s *Service) findSendButton(p *rod.Page) (*rod.Element, error) {
	if btn, err := p.Timeout(10*time.Second).ElementR("button", "^Send"); err == nil {
		return btn, nil
	}
	if btn, err := p.Timeout(5 * time.Second).Element(`button[aria-label*="Send"]`); err == nil {
		return btn, nil
	}
	buttons, _ := p.Elements("button")
	for _, btn := range buttons {
		if text, _ := btn.Text(); text == "Send" || text == "Send invitation" {
			return btn, nil
		}
	}
	return nil, fmt.Errorf("no send button on page")
}

// CheckAcceptance inspects the profile page for connection-state cues.
// Structured data is unavailable at this point, so this is the UI
// best-effort check: ambiguous pages count as still pending.
func (s *Service) CheckAcceptance(ctx context.Context, url string) (models.Acceptance, error) {
	p, err := s.visit(ctx, url)
	if err != nil {
		return "", err
	}

	if browser.HasElement(p, `button[aria-label*="Pending"]`) ||
		browser.HasElementWithText(p, "Pending") {
		return models.AcceptancePending, nil
	}
	if browser.HasElementWithText(p, `1st`) ||
		browser.HasElement(p, `button[aria-label*="Message"]`) {
		s.log.Info("connection accepted", "url", url)
		return models.AcceptanceAccepted, nil
	}
	// The invite button reappearing means the request is no longer
	// outstanding: withdrawn or rejected.
	if browser.HasElement(p, `button[aria-label*="Invite"][aria-label*="connect"]`) {
		return models.AcceptanceWithdrawn, nil
	}
	return models.AcceptancePending, nil
}

// SendFollowUp messages a newly accepted connection.
func (s *Service) SendFollowUp(ctx context.Context, url string, profile *models.ResolvedProfile) error {
	if s.messagesSent >= s.cfg.Limits.MaxMessagesPerDay {
		return models.Throttled(fmt.Errorf("daily message cap reached (%d)", s.messagesSent))
	}
	msg, err := template.Render(s.cfg.Templates.FollowUp, profile)
	if err != nil {
		return models.Fatal(fmt.Errorf("render follow-up: %w", err))
	}
	p, err := s.visit(ctx, url)
	if err != nil {
		return err
	}

	msgBtn, err := p.Timeout(5*time.Second).ElementR("button", "^Message$")
	if err != nil {
		msgBtn, err = p.Timeout(5 * time.Second).Element(`button[aria-label*="Message"]`)
	}
	if err != nil {
		return models.Recoverable(fmt.Errorf("message button not found: %w", err))
	}
	if err := stealth.Click(p, msgBtn); err != nil {
		return models.Recoverable(fmt.Errorf("click message: %w", err))
	}
	stealth.SleepRandom(1200, 2000)

	msgInput, err := p.Timeout(8 * time.Second).Element(`div.msg-form__contenteditable`)
	if err != nil {
		msgInput, err = p.Timeout(5 * time.Second).Element(`div[contenteditable="true"]`)
	}
	if err != nil {
		_ = browser.ScreenshotOnError(p, "message_input_fail", err)
		return models.Recoverable(fmt.Errorf("message input not found: %w", err))
	}
	if err := stealth.Type(msgInput, msg); err != nil {
		return models.Recoverable(fmt.Errorf("type message: %w", err))
	}
	stealth.SleepRandom(700, 1300)

	sendBtn, err := p.Timeout(10 * time.Second).Element(`button.msg-form__send-button`)
	if err != nil {
		sendBtn, err = p.Timeout(5*time.Second).ElementR("button", "^Send$")
	}
	if err != nil {
		_ = browser.ScreenshotOnError(p, "send_message_fail", err)
		return models.Recoverable(fmt.Errorf("send button not found: %w", err))
	}
	if err := stealth.Click(p, sendBtn); err != nil {
		return models.Recoverable(fmt.Errorf("click send: %w", err))
	}
	stealth.ThinkTime()

	s.messagesSent++
	s.log.Info("follow-up sent", "url", url)
	return nil
}
