package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pickleball-calendar/config"
	"pickleball-calendar/metrics"
)

const (
	defaultBaseURL   = "https://anc.apm.activecommunities.com/mesaaz"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

	availabilityPath = "/rest/reservation/quickreservation/availability"
	tokenPath        = "/rest/reservation/quickreservation/token"
	landingPath      = "/reservation/landing/quick"
	landingGroupID   = "5"

	maxBodyBytes = 8 << 20
)

type Client struct {
	HTTP      *http.Client
	BaseURL   string
	UserAgent string

	limiter *rate.Limiter
	breaker *breaker
	logger  *zap.Logger
}

func NewClient(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	logger = logger.Named("upstream")
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		UserAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(limit, 1),
		breaker:   newBreaker("activecommunities", cfg.BreakerFailures, cfg.BreakerTimeout, logger),
		logger:    logger,
	}
}

// FetchAvailability posts the availability query for one facility group and
// date and returns the raw response body. Transport failures, non-2xx replies
// and an open breaker are all errors; the payload itself is not inspected.
func (c *Client) FetchAvailability(ctx context.Context, date string, group config.FacilityGroup, session Session) ([]byte, error) {
	label := strconv.Itoa(group.ID)
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(label, "cancelled").Inc()
		return nil, err
	}

	body, err := json.Marshal(NewAvailabilityRequest(group, date))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	payload, err := c.breaker.execute(func() ([]byte, error) {
		req, err := c.newRequest(ctx, http.MethodPost, availabilityPath, url.Values{"locale": {"en-US"}}, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Content-Type", "application/json;charset=utf-8")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		req.Header.Set("Origin", c.origin())
		req.Header.Set("Referer", c.landingURL())
		req.Header.Set("Sec-Fetch-Dest", "empty")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		if session.Token != "" {
			req.Header.Set("X-CSRF-Token", session.Token)
		}
		if session.Cookies != "" {
			req.Header.Set("Cookie", session.Cookies)
		}
		return c.doBytes(req)
	})
	metrics.UpstreamDurationSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(label, "error").Inc()
		c.logger.Warn("availability request failed",
			zap.String("date", date),
			zap.Int("facility_group", group.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("facility group %d on %s: %w", group.ID, date, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(label, "ok").Inc()
	c.logger.Debug("availability fetched",
		zap.String("date", date),
		zap.Int("facility_group", group.ID),
		zap.Int("bytes", len(payload)),
	)
	return payload, nil
}

func (c *Client) origin() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

func (c *Client) landingURL() string {
	q := url.Values{}
	q.Set("locale", "en-US")
	q.Set("groupId", landingGroupID)
	return c.BaseURL + landingPath + "?" + q.Encode()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	path = strings.TrimPrefix(path, "/")
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + path
	if query != nil {
		base.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, base.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Ch-Ua", `"Not;A=Brand";v="99", "Google Chrome";v="139", "Chromium";v="139"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	return req, nil
}

func (c *Client) doBytes(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, snippet(body))
	}
	return body, nil
}

func (c *Client) doJSON(req *http.Request, dest any) error {
	body, err := c.doBytes(req)
	if err != nil {
		return err
	}
	if dest == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, dest)
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
