package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	activitydomain "sessionguard/agent/internal/activity/domain"
	alertdomain "sessionguard/agent/internal/alert/domain"
	sessiondomain "sessionguard/agent/internal/session/domain"
)

const defaultTimeout = 15 * time.Second

// Client talks JSON over HTTP to the Remote Session Store.
type Client struct {
	baseURL string
	token   string
	claims  *TokenClaims
	httpc   *http.Client
	now     func() time.Time
}

// NewClient returns a Client for the given base URL (e.g.
// https://api.clinic.example) and bearer token. timeout <= 0 uses a
// 15s default. The token is inspected, not verified; an already
// expired token makes every call fail fast with AuthError.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		claims:  inspectToken(token),
		httpc:   &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// SetToken replaces the bearer token, e.g. after the host application
// refreshes its login.
func (c *Client) SetToken(token string) {
	c.token = token
	c.claims = inspectToken(token)
}

// UserID returns the user id carried by the bearer token, or "" when
// the token has none.
func (c *Client) UserID() string {
	if c.claims == nil {
		return ""
	}
	return c.claims.UserID
}

// do executes one request and decodes the response into out (if non-nil).
// resource and id feed not-found mapping for the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, resource, id string) error {
	if c.claims.expired(c.now()) {
		return &AuthError{Message: "bearer token expired", Err: ErrTokenExpired}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return statusToError(resp.StatusCode, eb, resource, id)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ListSessions fetches one page of sessions matching the filters.
func (c *Client) ListSessions(ctx context.Context, f sessiondomain.Filters, page, limit int) (*sessiondomain.Page, error) {
	q := pageQuery(page, limit)
	if f.UserID != "" {
		q.Set("userId", f.UserID)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.RiskLevel != "" {
		q.Set("riskLevel", string(f.RiskLevel))
	}
	if f.SortBy != "" {
		q.Set("sortBy", f.SortBy)
	}
	var out sessiondomain.Page
	if err := c.do(ctx, http.MethodGet, "/sessions", q, nil, &out, "session", ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentSession fetches the caller's own session.
func (c *Client) CurrentSession(ctx context.Context) (*sessiondomain.Session, error) {
	var out sessiondomain.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/current", nil, nil, &out, "session", "current"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSettings fetches the caller's session settings.
func (c *Client) GetSettings(ctx context.Context) (*sessiondomain.Settings, error) {
	var out sessiondomain.Settings
	if err := c.do(ctx, http.MethodGet, "/sessions/settings", nil, nil, &out, "settings", ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings merges the partial settings server-side and returns
// the resulting full settings.
func (c *Client) UpdateSettings(ctx context.Context, patch sessiondomain.SettingsPatch) (*sessiondomain.Settings, error) {
	var out sessiondomain.Settings
	if err := c.do(ctx, http.MethodPut, "/sessions/settings", nil, patch, &out, "settings", ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStats fetches aggregate session statistics.
func (c *Client) GetStats(ctx context.Context) (*sessiondomain.Stats, error) {
	var out sessiondomain.Stats
	if err := c.do(ctx, http.MethodGet, "/sessions/stats", nil, nil, &out, "stats", ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// terminateBody carries the optional reason for a termination.
type terminateBody struct {
	Reason string `json:"reason,omitempty"`
}

// TerminateSession terminates one session. Returns NotFoundError if the
// backend no longer knows the id.
func (c *Client) TerminateSession(ctx context.Context, id, reason string) error {
	var body any
	if reason != "" {
		body = terminateBody{Reason: reason}
	}
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, body, nil, "session", id)
}

// terminatedCount is the response envelope of DELETE /sessions/others.
type terminatedCount struct {
	Terminated int `json:"terminated"`
}

// TerminateOthers terminates every active session except the caller's
// current one and returns how many were terminated.
func (c *Client) TerminateOthers(ctx context.Context) (int, error) {
	var out terminatedCount
	if err := c.do(ctx, http.MethodDelete, "/sessions/others", nil, nil, &out, "session", ""); err != nil {
		return 0, err
	}
	return out.Terminated, nil
}

// TrustDevice marks the session's device as trusted.
func (c *Client) TrustDevice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/trust-device", nil, nil, nil, "session", id)
}

// UntrustDevice clears the session's device-trust flag.
func (c *Client) UntrustDevice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id)+"/trust-device", nil, nil, nil, "session", id)
}

// reportBody carries the reason for a suspicious-session report.
type reportBody struct {
	Reason string `json:"reason"`
}

// ReportSuspicious files a security alert for the session. It never
// terminates the session; termination is a separate, explicit action.
func (c *Client) ReportSuspicious(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/report-suspicious", nil, reportBody{Reason: reason}, nil, "session", id)
}

// ListAlerts fetches one page of security alerts.
func (c *Client) ListAlerts(ctx context.Context, page, limit int) (*alertdomain.Page, error) {
	var out alertdomain.Page
	if err := c.do(ctx, http.MethodGet, "/sessions/alerts", pageQuery(page, limit), nil, &out, "alert", ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkAlertRead flips one alert's read flag on the backend.
func (c *Client) MarkAlertRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/sessions/alerts/"+url.PathEscape(id)+"/read", nil, nil, nil, "alert", id)
}

// MarkAllAlertsRead flips every alert's read flag on the backend.
func (c *Client) MarkAllAlertsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/sessions/alerts/read-all", nil, nil, nil, "alert", "")
}

// DismissAlert deletes one alert.
func (c *Client) DismissAlert(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/alerts/"+url.PathEscape(id), nil, nil, nil, "alert", id)
}

// ListActivities fetches one page of the session's activity feed.
func (c *Client) ListActivities(ctx context.Context, sessionID string, page, limit int) (*activitydomain.Page, error) {
	var out activitydomain.Page
	path := "/sessions/" + url.PathEscape(sessionID) + "/activities"
	if err := c.do(ctx, http.MethodGet, path, pageQuery(page, limit), nil, &out, "session", sessionID); err != nil {
		return nil, err
	}
	return &out, nil
}
