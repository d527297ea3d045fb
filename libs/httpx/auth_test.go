package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
)

func TestWithAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := auth.Claims{
		Sub:  "prov-1",
		Role: "clinician",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := WithAuth(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := ClaimsFromContext(r.Context())
		if !ok || got.Sub != claims.Sub || got.Role != claims.Role {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}

	reqNone := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	rwNone := httptest.NewRecorder()
	h.ServeHTTP(rwNone, reqNone)
	if rwNone.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rwNone.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req = req.WithContext(ContextWithClaims(req.Context(), &auth.Claims{Sub: "pat-1", Role: "patient"}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK = reqOK.WithContext(ContextWithClaims(reqOK.Context(), &auth.Claims{Sub: "adm-1", Role: "admin"}))
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestChainOrderAndRequestID(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	var seenID string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
	}), mw("a"), mw("b"), WithRequestID)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
	if seenID != "req-42" || rw.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seenID, rw.Header().Get(RequestIDHeader))
	}
}

func TestMemoryLimiterBlocksAfterLimit(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(2, time.Minute), nil, false)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on 429")
	}

	// A different authenticated caller behind the same address has its own window.
	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req = req.WithContext(ContextWithClaims(req.Context(), &auth.Claims{Sub: "pat-9"}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected subject-keyed window, got %d", rw.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimitFailOpenAndClosed(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	for _, tc := range []struct {
		failOpen bool
		want     int
	}{{true, http.StatusOK}, {false, http.StatusServiceUnavailable}} {
		rw := httptest.NewRecorder()
		RateLimit(brokenLimiter{}, nil, tc.failOpen)(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		if rw.Code != tc.want {
			t.Fatalf("failOpen=%v: expected %d, got %d", tc.failOpen, tc.want, rw.Code)
		}
	}
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nInjected: yes")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "" || strings.Contains(seen, " ") {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
}

func TestAccessLogRecordsSubjectAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	token, err := auth.SignHS256(auth.Claims{Sub: "pat-1", Role: "patient", Exp: time.Now().Add(time.Hour).Unix()}, "s3cret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}), WithRequestID, WithAccessLog(logger), WithAuth("s3cret", nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if line["subject"] != "pat-1" || line["level"] != "WARN" || line["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected access log %v", line)
	}
}

func TestWithTimeoutAnswersJSON(t *testing.T) {
	h := WithTimeout(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable || !strings.Contains(rw.Body.String(), `"timeout"`) {
		t.Fatalf("unexpected timeout response %d %q", rw.Code, rw.Body.String())
	}
}
