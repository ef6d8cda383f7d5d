package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pickleball-calendar/metrics"
)

// DefaultSessionTTL is how long a scraped CSRF token is trusted.
const DefaultSessionTTL = 30 * time.Minute

var ErrNoCSRFToken = errors.New("csrf token not found")

// Checked in order; the first match wins.
var csrfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)csrfToken\s*[:=]\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta\s+name=["']_csrf["']\s+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<input[^>]*name=["']_csrf["'][^>]*value=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)data-csrf-token=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)_csrf["']\s*:\s*["']([^"']+)["']`),
}

var sessionCookieMarkers = []string{"JSESSIONID", "mesaaz", "BIGip", "TS0"}

// ExtractCSRFToken finds the CSRF token embedded in the reservation landing page.
func ExtractCSRFToken(html string) (string, bool) {
	for _, pattern := range csrfPatterns {
		if match := pattern.FindStringSubmatch(html); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// sessionCookies keeps the name=value pairs of session related cookies in
// the order the server set them.
func sessionCookies(header http.Header) string {
	pairs := []string{}
	for _, raw := range header.Values("Set-Cookie") {
		nameValue, _, _ := strings.Cut(raw, ";")
		nameValue = strings.TrimSpace(nameValue)
		for _, marker := range sessionCookieMarkers {
			if strings.Contains(nameValue, marker) {
				pairs = append(pairs, nameValue)
				break
			}
		}
	}
	return strings.Join(pairs, "; ")
}

// FetchSession loads the reservation landing page for a fresh session cookie
// and CSRF token, falling back to the token endpoint when the page carries no
// token.
func (c *Client) FetchSession(ctx context.Context) (Session, error) {
	q := url.Values{}
	q.Set("locale", "en-US")
	q.Set("groupId", landingGroupID)
	req, err := c.newRequest(ctx, http.MethodGet, landingPath, q, nil)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("load reservation page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("load reservation page: %s", resp.Status)
	}
	html, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Session{}, fmt.Errorf("read reservation page: %w", err)
	}

	now := time.Now()
	session := Session{
		Cookies:   sessionCookies(resp.Header),
		FetchedAt: now,
	}
	if token, ok := ExtractCSRFToken(string(html)); ok {
		session.Token = token
		session.Source = SourceHTML
		return session, nil
	}

	c.logger.Warn("csrf token not found in page, trying token endpoint")
	token, err := c.fetchAlternativeToken(ctx, session.Cookies)
	if err != nil {
		return Session{}, err
	}
	session.Token = token
	session.Source = SourceAlternative
	return session, nil
}

func (c *Client) fetchAlternativeToken(ctx context.Context, cookies string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, tokenPath, nil, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	var resp tokenResponse
	if err := c.doJSON(req, &resp); err != nil {
		c.logger.Warn("token endpoint failed", zap.Error(err))
		return "", ErrNoCSRFToken
	}
	if resp.Token == "" {
		return "", ErrNoCSRFToken
	}
	return resp.Token, nil
}

// SessionFetcher obtains a fresh upstream session.
type SessionFetcher interface {
	FetchSession(ctx context.Context) (Session, error)
}

// SessionManager caches the current session and refreshes it once it has
// expired. A token supplied by hand replaces the cached session until it
// expires or is cleared.
type SessionManager struct {
	fetcher SessionFetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	current Session
	lastErr error
}

func NewSessionManager(fetcher SessionFetcher, ttl time.Duration, logger *zap.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("session"),
	}
}

// Session returns the cached session, fetching a new one when it is missing,
// expired or force is set.
func (m *SessionManager) Session(ctx context.Context, force bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !force && !m.current.Expired(now) {
		return m.current, nil
	}

	session, err := m.fetcher.FetchSession(ctx)
	if err != nil {
		m.lastErr = err
		metrics.SessionRefreshesTotal.WithLabelValues("error").Inc()
		m.logger.Error("session refresh failed", zap.Error(err))
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	if session.FetchedAt.IsZero() {
		session.FetchedAt = now
	}
	session.ExpiresAt = session.FetchedAt.Add(m.ttl)

	m.current = session
	m.lastErr = nil
	metrics.SessionRefreshesTotal.WithLabelValues("ok").Inc()
	m.logger.Info("session refreshed",
		zap.String("source", session.Source),
		zap.Bool("cookies", session.Cookies != ""),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

// Use installs a manually supplied token and cookie header.
func (m *SessionManager) Use(token, cookies string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.current = Session{
		Token:     strings.TrimSpace(token),
		Cookies:   strings.TrimSpace(cookies),
		Source:    SourceManual,
		FetchedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.lastErr = nil
	return m.current
}

func (m *SessionManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Session{}
}

type SessionStatus struct {
	HasToken    bool      `json:"hasToken"`
	Valid       bool      `json:"valid"`
	Source      string    `json:"source,omitempty"`
	TokenSample string    `json:"tokenSample,omitempty"`
	HasCookies  bool      `json:"hasCookies"`
	FetchedAt   time.Time `json:"fetchedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	LastError   string    `json:"lastError,omitempty"`
}

func (m *SessionManager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := SessionStatus{
		HasToken:    m.current.Token != "",
		Valid:       !m.current.Expired(m.now()),
		Source:      m.current.Source,
		TokenSample: m.current.TokenSample(),
		HasCookies:  m.current.Cookies != "",
		FetchedAt:   m.current.FetchedAt,
		ExpiresAt:   m.current.ExpiresAt,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}
