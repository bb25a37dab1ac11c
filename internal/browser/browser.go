// Package browser owns the rod browser instance backing one account
// session. One browser per account; pages are cheap, browsers are not.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/eracle/linkreach/internal/config"
	"github.com/eracle/linkreach/internal/logging"
)

type Browser struct {
	Rod *rod.Browser
	cfg *config.Config
	log *logging.Logger

	userAgent string
	platform  string
}

func New(ctx context.Context, cfg *config.Config) (*Browser, error) {
	log := logging.New(cfg.Logging.Level).With("module", "browser")
	// Leakless disabled to avoid AV false positives on Windows.
	l := launcher.New().Leakless(false).Headless(cfg.Stealth.Headless)
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	rb := rod.New().ControlURL(url)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b := &Browser{Rod: rb.MustIgnoreCertErrors(true), cfg: cfg, log: log}
	b.pickIdentity()
	b.log.Info("browser ready", "ua", b.userAgent, "headless", cfg.Stealth.Headless)
	return b, nil
}

// pickIdentity chooses one user agent per browser lifetime so every page
// of the session reports the same fingerprint.
func (b *Browser) pickIdentity() {
	ua := b.cfg.Stealth.UserAgent
	if ua == "" {
		uas := []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		}
		ua = uas[rand.Intn(len(uas))]
	}
	b.userAgent = ua
	b.platform = "Win32"
	if strings.Contains(ua, "Macintosh") {
		b.platform = "MacIntel"
	} else if strings.Contains(ua, "Linux") {
		b.platform = "Linux x86_64"
	}
}

// NewPage opens a page with the session fingerprint applied before any
// navigation happens.
func (b *Browser) NewPage(ctx context.Context) (*rod.Page, error) {
	p, err := b.Rod.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	p = p.Context(ctx).Timeout(300 * time.Second)

	_ = proto.EmulationSetUserAgentOverride{
		UserAgent: b.userAgent,
		Platform:  b.platform,
	}.Call(p)

	w := randRange(b.cfg.Stealth.ViewportWidthMin, b.cfg.Stealth.ViewportWidthMax)
	h := randRange(b.cfg.Stealth.ViewportHeightMin, b.cfg.Stealth.ViewportHeightMax)
	_ = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})

	if _, err := p.EvalOnNewDocument(maskScript(w, h, b.platform)); err != nil {
		b.log.Warn("fingerprint mask not applied", "err", err)
	}
	return p, nil
}

func (b *Browser) Close() {
	if b.Rod != nil {
		_ = b.Rod.Close()
	}
}

// maskScript hides the obvious automation tells: webdriver flag, empty
// plugin list, headless screen metrics.
func maskScript(width, height int, platform string) string {
	return fmt.Sprintf(`() => {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		window.chrome = window.chrome || { runtime: {}, loadTimes: function() {}, csi: function() {}, app: {} };
		Object.defineProperty(navigator, 'plugins', {
			get: () => [
				{ name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
				{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' }
			]
		});
		Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
		Object.defineProperty(navigator, 'platform', { get: () => %q });
		Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });
		Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });
		Object.defineProperty(window.screen, 'width', { get: () => %d });
		Object.defineProperty(window.screen, 'height', { get: () => %d });
		Object.defineProperty(window.screen, 'availWidth', { get: () => %d });
		Object.defineProperty(window.screen, 'availHeight', { get: () => %d });
		const getParameter = WebGLRenderingContext.prototype.getParameter;
		WebGLRenderingContext.prototype.getParameter = function(parameter) {
			if (parameter === 37445) return 'Intel Inc.';
			if (parameter === 37446) return 'Intel Iris OpenGL Engine';
			return getParameter.apply(this, arguments);
		};
	}`, platform, width+100, height+100, width+100, height+40)
}

func randRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + rand.Intn(max-min+1)
}

// HasElement reports whether sel exists within a short wait.
func HasElement(p *rod.Page, sel string) bool {
	_, err := p.Timeout(2 * time.Second).Element(sel)
	return err == nil
}

// HasElementWithText reports whether any element matching the regexp text
// exists within a short wait.
func HasElementWithText(p *rod.Page, text string) bool {
	_, err := p.Timeout(2*time.Second).ElementR("*", text)
	return err == nil
}

// ScreenshotOnError captures the page for later inspection and returns
// err unchanged.
func ScreenshotOnError(p *rod.Page, prefix string, err error) error {
	if p == nil || err == nil {
		return err
	}
	path := fmt.Sprintf("%s-%d.png", prefix, time.Now().Unix())
	bts, _ := p.Screenshot(true, &proto.PageCaptureScreenshot{})
	_ = os.WriteFile(path, bts, 0o644)
	return err
}
