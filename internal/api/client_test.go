package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sessiondomain "sessionguard/agent/internal/session/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-token", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func signedToken(t *testing.T, claims *TokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient("", "tok", time.Second); err == nil {
		t.Fatal("NewClient should reject an empty base URL")
	}
}

func TestClient_ListSessions_RequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(sessiondomain.Page{
			Items: []*sessiondomain.Session{{ID: "sess-1"}},
			Total: 1, Page: 2, TotalPages: 3,
		})
	})

	page, err := c.ListSessions(context.Background(), sessiondomain.Filters{
		Status:    sessiondomain.StatusActive,
		RiskLevel: sessiondomain.RiskHigh,
		SortBy:    "lastActivityAt",
	}, 2, 20)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotPath != "/sessions" {
		t.Errorf("path = %q, want /sessions", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q, want bearer token", gotAuth)
	}
	for key, want := range map[string]string{
		"page": "2", "limit": "20", "status": "active", "riskLevel": "high", "sortBy": "lastActivityAt",
	} {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s = %v, want %q", key, got, want)
		}
	}
	if len(page.Items) != 1 || page.Items[0].ID != "sess-1" {
		t.Errorf("items = %v, want one session sess-1", page.Items)
	}
	if page.Page != 2 || page.TotalPages != 3 {
		t.Errorf("page meta = %d/%d, want 2/3", page.Page, page.TotalPages)
	}
}

func TestClient_TerminateSession_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "session not found"})
	})

	err := c.TerminateSession(context.Background(), "sess-9", "")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	var nf *NotFoundError
	errors.As(err, &nf)
	if nf.Resource != "session" || nf.ID != "sess-9" {
		t.Errorf("not found = %s/%s, want session/sess-9", nf.Resource, nf.ID)
	}
}

func TestClient_TerminateSession_SendsReason(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.TerminateSession(context.Background(), "sess-1", "idle too long"); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotPath != "/sessions/sess-1" {
		t.Errorf("path = %q, want /sessions/sess-1", gotPath)
	}
	if gotBody["reason"] != "idle too long" {
		t.Errorf("reason = %q, want %q", gotBody["reason"], "idle too long")
	}
}

func TestClient_TerminateOthers_ParsesCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/sessions/others" {
			t.Errorf("request = %s %s, want DELETE /sessions/others", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int{"terminated": 3})
	})

	n, err := c.TerminateOthers(context.Background())
	if err != nil {
		t.Fatalf("TerminateOthers: %v", err)
	}
	if n != 3 {
		t.Errorf("terminated = %d, want 3", n)
	}
}

func TestClient_UpdateSettings_PutsPatch(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(sessiondomain.Settings{MaxConcurrentSessions: 5})
	})

	max := 5
	updated, err := c.UpdateSettings(context.Background(), sessiondomain.SettingsPatch{MaxConcurrentSessions: &max})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotBody["maxConcurrentSessions"] != float64(5) {
		t.Errorf("body = %v, want maxConcurrentSessions=5 only", gotBody)
	}
	if _, ok := gotBody["requireTwoFactor"]; ok {
		t.Error("unset patch fields must be omitted")
	}
	if updated.MaxConcurrentSessions != 5 {
		t.Errorf("updated = %+v, want max 5", updated)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, IsAuth},
		{"forbidden", http.StatusForbidden, IsAuth},
		{"bad request", http.StatusBadRequest, func(err error) bool {
			var ve *ValidationError
			return errors.As(err, &ve)
		}},
		{"unprocessable", http.StatusUnprocessableEntity, func(err error) bool {
			var ve *ValidationError
			return errors.As(err, &ve)
		}},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			return err != nil && !IsAuth(err) && !IsNotFound(err) && !IsNetwork(err)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := c.GetStats(context.Background())
			if !tc.check(err) {
				t.Errorf("status %d mapped to %v", tc.status, err)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	c, err := NewClient(srv.URL, "tok", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.CurrentSession(context.Background())
	if !IsNetwork(err) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestClient_ExpiredToken_FailsFast(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	t.Cleanup(srv.Close)

	token := signedToken(t, &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		UserID: "user-1",
	})
	c, err := NewClient(srv.URL, token, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.CurrentSession(context.Background())
	if !IsAuth(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want wrapped ErrTokenExpired", err)
	}
	if hits != 0 {
		t.Errorf("server hits = %d, want 0: expired token must fail before the round trip", hits)
	}
}

func TestClient_SetToken_RefreshesClaims(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessiondomain.Session{ID: "sess-1"})
	})
	if c.UserID() != "" {
		t.Errorf("UserID = %q, want empty for opaque token", c.UserID())
	}

	c.SetToken(signedToken(t, &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-7",
	}))
	if c.UserID() != "user-7" {
		t.Errorf("UserID = %q, want user-7", c.UserID())
	}
	if _, err := c.CurrentSession(context.Background()); err != nil {
		t.Errorf("CurrentSession with fresh token: %v", err)
	}
}
