// Package browser manages rod-driven Chrome sessions for trajectory
// execution. Each account gets its own user data directory so logins and
// site state survive across instructions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"webagent/internal/config"
	"webagent/internal/logging"
	"webagent/internal/types"
)

// Session tracks one open page.
type Session struct {
	ID         string    `json:"id"`
	Account    string    `json:"account,omitempty"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// Manager owns one Chrome instance per account and tracks its pages.
type Manager struct {
	cfg      config.BrowserConfig
	mu       sync.RWMutex
	browsers map[string]*rod.Browser // keyed by user data dir
	sessions map[string]*sessionRecord
}

// NewManager creates a browser manager.
func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		browsers: make(map[string]*rod.Browser),
		sessions: make(map[string]*sessionRecord),
	}
}

// browserFor returns (launching if needed) the Chrome instance bound to the
// account's user data directory. An empty dir shares one default instance.
func (m *Manager) browserFor(ctx context.Context, userDataDir string) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.browsers[userDataDir]; ok {
		if _, err := b.Version(); err == nil {
			return b, nil
		}
		logging.Browser("Stale browser for %q, relaunching", userDataDir)
		_ = b.Close()
		delete(m.browsers, userDataDir)
	}

	launch := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		launch = launch.Bin(m.cfg.Bin)
	}
	if userDataDir != "" {
		dir := userDataDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(m.cfg.SessionsDir, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("browser: create user data dir: %w", err)
		}
		launch = launch.Set(flags.UserDataDir, dir)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	m.browsers[userDataDir] = b
	logging.Browser("Launched browser for %q (headless=%v)", userDataDir, m.cfg.Headless)
	return b, nil
}

// Open creates a session on the given URL under an account's browser.
func (m *Manager) Open(ctx context.Context, account types.Account, url string) (*Session, error) {
	b, err := m.browserFor(ctx, account.UserDataDir)
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.viewportWidth(),
		Height:            m.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserError("Set viewport failed: %v", err)
	}

	if err := page.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		logging.BrowserError("Initial load of %s did not settle: %v", url, err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		Account:    account.Email,
		URL:        url,
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	logging.Browser("Opened session %s for %s at %s", meta.ID, account.Email, url)
	return &meta, nil
}

// Navigate drives an existing session to a URL.
func (m *Manager) Navigate(ctx context.Context, sessionID, url string) error {
	page, ok := m.page(sessionID)
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	m.touch(sessionID, url)
	return nil
}

// Screenshot captures the viewport as PNG and writes it to path.
func (m *Manager) Screenshot(ctx context.Context, sessionID, path string) error {
	page, ok := m.page(sessionID)
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}

	img, err := page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, img, 0644); err != nil {
		return fmt.Errorf("browser: write screenshot: %w", err)
	}
	m.touch(sessionID, "")
	return nil
}

// AXTree returns a flattened accessibility tree for the current page, one
// node per line. Ignored nodes and empty names are skipped to keep the
// output digestible for prompts.
func (m *Manager) AXTree(ctx context.Context, sessionID string) (string, error) {
	page, ok := m.page(sessionID)
	if !ok {
		return "", fmt.Errorf("browser: unknown session %s", sessionID)
	}

	res, err := proto.AccessibilityGetFullAXTree{}.Call(page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("browser: ax tree: %w", err)
	}

	depth := make(map[proto.AccessibilityAXNodeID]int, len(res.Nodes))
	var b strings.Builder
	for _, node := range res.Nodes {
		if node == nil || node.Ignored {
			continue
		}
		d := 0
		if node.ParentID != "" {
			d = depth[node.ParentID] + 1
		}
		depth[node.NodeID] = d

		role, name := axValue(node.Role), axValue(node.Name)
		if name == "" && role == "" {
			continue
		}
		b.WriteString(strings.Repeat("  ", d))
		if name != "" {
			fmt.Fprintf(&b, "%s %q\n", role, name)
		} else {
			fmt.Fprintf(&b, "%s\n", role)
		}
	}
	m.touch(sessionID, "")
	return b.String(), nil
}

func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	return strings.Trim(v.Value.String(), `"`)
}

// CloseSession closes one page; the account's browser stays up for reuse.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("browser: unknown session %s", sessionID)
	}
	delete(m.sessions, sessionID)
	if rec.page != nil {
		return rec.page.Close()
	}
	return nil
}

// Shutdown closes every page and browser.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.sessions {
		if rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
	}

	var errs []error
	for dir, b := range m.browsers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.browsers, dir)
	}
	logging.Browser("Browser shutdown complete")
	return errors.Join(errs...)
}

func (m *Manager) page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

func (m *Manager) touch(sessionID, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta.LastActive = time.Now()
	if url != "" {
		rec.meta.URL = url
	}
}

func (m *Manager) viewportWidth() int {
	if m.cfg.ViewportWidth <= 0 {
		return 1920
	}
	return m.cfg.ViewportWidth
}

func (m *Manager) viewportHeight() int {
	if m.cfg.ViewportHeight <= 0 {
		return 1080
	}
	return m.cfg.ViewportHeight
}
