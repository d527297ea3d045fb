package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewBaseMuxWithReady serves /healthz (process is up) and /readyz (every check passes).
// Checks run concurrently, each bounded to two seconds.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReadiness(w, http.StatusOK, readiness{Status: "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := runChecks(r.Context(), checks)
		status := http.StatusOK
		if result.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeReadiness(w, status, result)
	})
	return mux
}

func runChecks(ctx context.Context, checks []ReadyCheck) readiness {
	out := readiness{Status: "ok", Checks: map[string]string{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			result := "ok"
			if err := fn(checkCtx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			out.Checks[name] = result
			if result != "ok" {
				out.Status = "unavailable"
			}
		}(name, check.Check)
	}
	wg.Wait()
	return out
}

func writeReadiness(w http.ResponseWriter, status int, body readiness) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
