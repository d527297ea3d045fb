package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func publishKeys(t *testing.T, pub *rsa.PublicKey, kid string, hits *atomic.Int32, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSClientCachesAndSurvivesOutage(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var hits atomic.Int32
	var fail atomic.Bool
	srv := publishKeys(t, &key.PublicKey, "k1", &hits, &fail)

	now := time.Unix(1_700_000_000, 0)
	c := NewJWKSClient(srv.URL, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := c.Get(ctx, "k1")
	if err != nil || got.N.Cmp(key.N) != 0 || got.E != key.E {
		t.Fatalf("unexpected key %v, err %v", got, err)
	}
	if _, err := c.Get(ctx, "k1"); err != nil || hits.Load() != 1 {
		t.Fatalf("expected cached key, hits=%d err=%v", hits.Load(), err)
	}

	if _, err := c.Get(ctx, "unknown"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("unknown kid inside the refresh gap should not fetch, hits=%d", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	if _, err := c.Get(ctx, "k1"); err != nil {
		t.Fatalf("stale key should be served during an outage: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a refresh attempt, hits=%d", hits.Load())
	}
}
