package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/lifecycle"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/people"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/phi"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/storage/memory"
)

const jwtSecret = "test-secret"

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	return newGuardedServer(t, nil)
}

func newGuardedServer(t *testing.T, bookingGuard httpx.Middleware) (http.Handler, *memory.Store) {
	t.Helper()
	dir := people.NewStaticStore()
	dir.PutProvider(model.Provider{ID: "prov-1", WorkingDays: "Mon-Fri", WorkingHours: "09:00-17:00", SlotIntervalMinutes: 30, MaxDailyAppointments: 10, Active: true})
	dir.PutSubject(model.Subject{ID: "pat-1"})
	dir.PutSubject(model.Subject{ID: "pat-2"})

	gateway, err := phi.FromHexKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("phi: %v", err)
	}
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := storage.RetryPolicy{CommandTimeout: time.Second, MaxAttempts: 3, BaseDelay: time.Millisecond}

	h := NewSchedulingHandler(
		availability.NewFinder(dir, store, policy, logger),
		booking.NewService(dir, store, gateway, nil, policy, logger),
		lifecycle.NewService(store, nil, policy, logger),
		logger,
	)
	mux := http.NewServeMux()
	h.Register(mux, httpx.WithAuth(jwtSecret, nil), bookingGuard)
	return mux, store
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:  sub,
		Role: role,
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, jwtSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, target, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func slots(t *testing.T, h http.Handler) []string {
	t.Helper()
	rw := do(t, h, http.MethodGet, "/api/v1/slots?provider_id=prov-1&date=2025-07-14", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("slots: expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp slotsResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	return resp.Slots
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestSlotsIsPublic(t *testing.T) {
	h, _ := newTestServer(t)
	got := slots(t, h)
	if len(got) != 16 || got[0] != "9:00 AM" || got[15] != "4:30 PM" {
		t.Fatalf("unexpected slots %v", got)
	}

	rw := do(t, h, http.MethodGet, "/api/v1/slots?provider_id=prov-1&date=nope", "", nil)
	if rw.Code != http.StatusBadRequest || !bytes.Contains(rw.Body.Bytes(), []byte("invalid_date")) {
		t.Fatalf("expected invalid_date 400, got %d %s", rw.Code, rw.Body.String())
	}
	rw = do(t, h, http.MethodGet, "/api/v1/slots?provider_id=ghost&date=2025-07-14", "", nil)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rw.Code)
	}
	rw = do(t, h, http.MethodPost, "/api/v1/slots", "", nil)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}

func TestBookingRequiresToken(t *testing.T) {
	h, _ := newTestServer(t)
	rw := do(t, h, http.MethodPost, "/api/v1/appointments", "", bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "10:00"})
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}
}

func TestBookingRateLimitIsPerSubject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := httpx.RateLimit(httpx.NewMemoryLimiter(1, time.Minute), logger, false)
	h, _ := newGuardedServer(t, guard)

	// Requests without a token are rejected before they reach the limiter.
	for i := 0; i < 3; i++ {
		rw := do(t, h, http.MethodPost, "/api/v1/appointments", "", bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "9:00 AM"})
		if rw.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without a token, got %d", rw.Code)
		}
	}

	// httptest requests share one RemoteAddr, so these only pass if the key is the subject.
	rw := do(t, h, http.MethodPost, "/api/v1/appointments", token(t, "pat-1", model.RolePatient), bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "10:00 AM"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("pat-1: expected 201, got %d %s", rw.Code, rw.Body.String())
	}
	rw = do(t, h, http.MethodPost, "/api/v1/appointments", token(t, "pat-2", model.RolePatient), bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "10:30 AM"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("pat-2: expected its own bucket and 201, got %d %s", rw.Code, rw.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewBufferString(`{"provider_id":"prov-1","date":"2025-07-14","time":"11:00 AM"}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "pat-1", model.RolePatient))
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	limited := httptest.NewRecorder()
	h.ServeHTTP(limited, req)
	if limited.Code != http.StatusTooManyRequests || !bytes.Contains(limited.Body.Bytes(), []byte("rate_limited")) {
		t.Fatalf("pat-1 second booking: expected 429 regardless of forwarded address, got %d %s", limited.Code, limited.Body.String())
	}
	if limited.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on 429")
	}
}

func TestBookCancelAndRebookFlow(t *testing.T) {
	h, _ := newTestServer(t)
	patient := token(t, "pat-1", model.RolePatient)

	rw := do(t, h, http.MethodPost, "/api/v1/appointments", patient, bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "10:00 AM", Reason: "checkup"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var booked bookResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &booked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if booked.Status != "pending" || booked.FormattedTime != "10:00 AM" || booked.FormattedDate != "Monday, July 14, 2025" {
		t.Fatalf("unexpected booking response %+v", booked)
	}
	if got := slots(t, h); len(got) != 15 || contains(got, "10:00 AM") {
		t.Fatalf("expected 10:00 AM taken, got %v", got)
	}

	rw = do(t, h, http.MethodPost, "/api/v1/appointments", token(t, "pat-2", model.RolePatient), bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "10:00"})
	if rw.Code != http.StatusConflict || !bytes.Contains(rw.Body.Bytes(), []byte("slot_already_booked")) {
		t.Fatalf("expected slot_already_booked 409, got %d %s", rw.Code, rw.Body.String())
	}

	rw = do(t, h, http.MethodPost, "/api/v1/appointments/transition", patient, transitionRequest{AppointmentID: booked.AppointmentID, Action: "cancel"})
	if rw.Code != http.StatusOK || !bytes.Contains(rw.Body.Bytes(), []byte(`"cancelled"`)) {
		t.Fatalf("expected cancel 200, got %d %s", rw.Code, rw.Body.String())
	}
	if got := slots(t, h); !contains(got, "10:00 AM") {
		t.Fatalf("expected 10:00 AM free after cancel, got %v", got)
	}

	rw = do(t, h, http.MethodPost, "/api/v1/appointments/transition", patient, transitionRequest{AppointmentID: booked.AppointmentID, Action: "start"})
	if rw.Code != http.StatusConflict || !bytes.Contains(rw.Body.Bytes(), []byte("invalid_transition")) {
		t.Fatalf("expected invalid_transition 409, got %d %s", rw.Code, rw.Body.String())
	}
}

func TestBookingErrorMapping(t *testing.T) {
	h, _ := newTestServer(t)
	patient := token(t, "pat-1", model.RolePatient)

	cases := []struct {
		req    bookRequest
		status int
		code   string
	}{
		{bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "6:00 PM"}, http.StatusUnprocessableEntity, "outside_working_hours"},
		{bookRequest{ProviderID: "prov-1", Date: "July 40", Time: "10:00"}, http.StatusBadRequest, "invalid_date"},
		{bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "later"}, http.StatusBadRequest, "invalid_time"},
		{bookRequest{ProviderID: "ghost", Date: "2025-07-14", Time: "10:00"}, http.StatusNotFound, "provider_not_found"},
		{bookRequest{ProviderID: "prov-1", SubjectID: "pat-2", Date: "2025-07-14", Time: "10:00"}, http.StatusForbidden, "not_permitted"},
	}
	for _, tc := range cases {
		rw := do(t, h, http.MethodPost, "/api/v1/appointments", patient, tc.req)
		if rw.Code != tc.status {
			t.Fatalf("%+v: expected %d, got %d %s", tc.req, tc.status, rw.Code, rw.Body.String())
		}
		var e errorResponse
		if err := json.Unmarshal(rw.Body.Bytes(), &e); err != nil || e.Error != tc.code {
			t.Fatalf("%+v: expected code %s, got %s (%v)", tc.req, tc.code, rw.Body.String(), err)
		}
	}

	desk := token(t, "desk-1", model.RoleFrontDesk)
	rw := do(t, h, http.MethodPost, "/api/v1/appointments", desk, bookRequest{ProviderID: "prov-1", SubjectID: "pat-x", Date: "2025-07-14", Time: "10:00"})
	if rw.Code != http.StatusNotFound || !bytes.Contains(rw.Body.Bytes(), []byte("subject_not_found")) {
		t.Fatalf("expected subject_not_found, got %d %s", rw.Code, rw.Body.String())
	}
}

func TestConcurrentRequestsForOneSlot(t *testing.T) {
	h, _ := newTestServer(t)
	tokens := []string{token(t, "pat-1", model.RolePatient), token(t, "pat-2", model.RolePatient)}

	var wg sync.WaitGroup
	codes := make([]int, len(tokens))
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			body := `{"provider_id":"prov-1","date":"2025-07-14","time":"11:00 AM"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewBufferString(body))
			req.Header.Set("Authorization", "Bearer "+tok)
			rw := httptest.NewRecorder()
			h.ServeHTTP(rw, req)
			codes[i] = rw.Code
		}(i, tok)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	if created != 1 || conflicts != 1 {
		t.Fatalf("expected one 201 and one 409, got %v", codes)
	}
}

func TestDetailAndListMaskReason(t *testing.T) {
	h, _ := newTestServer(t)
	patient := token(t, "pat-1", model.RolePatient)
	rw := do(t, h, http.MethodPost, "/api/v1/appointments", patient, bookRequest{ProviderID: "prov-1", Date: "2025-07-14", Time: "2:00 PM", Reason: "migraine"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rw.Code, rw.Body.String())
	}
	var booked bookResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &booked)

	detail := func(tok string) appointmentItem {
		rw := do(t, h, http.MethodGet, "/api/v1/appointments/detail?id="+url.QueryEscape(booked.AppointmentID), tok, nil)
		if rw.Code != http.StatusOK {
			t.Fatalf("detail: %d %s", rw.Code, rw.Body.String())
		}
		var item appointmentItem
		_ = json.Unmarshal(rw.Body.Bytes(), &item)
		return item
	}
	if got := detail(patient); got.Reason != "migraine" || got.Time != "2:00 PM" {
		t.Fatalf("subject should see plaintext, got %+v", got)
	}
	if got := detail(token(t, "pat-2", model.RolePatient)); got.Reason != phi.Masked {
		t.Fatalf("other patient should see masked reason, got %q", got.Reason)
	}

	rw = do(t, h, http.MethodGet, "/api/v1/appointments/day?provider_id=prov-1&date=2025-07-14", token(t, "prov-1", model.RoleClinician), nil)
	if rw.Code != http.StatusOK || !bytes.Contains(rw.Body.Bytes(), []byte("migraine")) {
		t.Fatalf("provider list: %d %s", rw.Code, rw.Body.String())
	}
	rw = do(t, h, http.MethodGet, "/api/v1/appointments/day?provider_id=prov-1&date=2025-07-14", patient, nil)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("patients may not list a provider's day, got %d", rw.Code)
	}
}

func TestStatusForUnknownError(t *testing.T) {
	status, code := statusFor(io.ErrUnexpectedEOF)
	if status != http.StatusInternalServerError || code != "internal_error" {
		t.Fatalf("unexpected mapping %d %s", status, code)
	}
}
