package ratelim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"

	"tripsync/globals"
)

func ok(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusNoContent)
}

func call(h httprouter.Handle, addr, user string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/plan/chat", nil)
	req.RemoteAddr = addr
	if user != "" {
		req = req.WithContext(context.WithValue(req.Context(), globals.UserIDKey, user))
	}
	rec := httptest.NewRecorder()
	h(rec, req, nil)
	return rec.Code
}

func TestLimitPerCaller(t *testing.T) {
	h := NewRateLimiter(1, 2).Limit(ok)

	for i := 0; i < 2; i++ {
		if code := call(h, "10.0.0.1:5000", "u1"); code != http.StatusNoContent {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := call(h, "10.0.0.2:6000", "u1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request from same user: %d", code)
	}
	if code := call(h, "10.0.0.1:5000", "u2"); code != http.StatusNoContent {
		t.Fatalf("other user throttled: %d", code)
	}
	if code := call(h, "10.0.0.3:1", ""); code != http.StatusNoContent {
		t.Fatalf("anonymous caller: %d", code)
	}
}

func TestIdleVisitorsForgotten(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	start := time.Now()
	rl.getLimiter("ip:a", start)
	rl.getLimiter("ip:b", start.Add(forget+time.Second))
	if len(rl.visitors) != 1 {
		t.Fatalf("visitors = %d", len(rl.visitors))
	}
}
