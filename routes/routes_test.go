package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"

	"tripsync/db"
	"tripsync/itinerary"
	"tripsync/live"
	"tripsync/planner"
	"tripsync/ratelim"
)

func TestRoutesMountTogether(t *testing.T) {
	repo := db.NewMemoryStore()
	plans := planner.NewRegistry(planner.Config{Repo: repo})
	defer plans.Close()

	router := httprouter.New()
	AddPlanRoutes(router, &planner.Handlers{Plans: plans}, ratelim.NewRateLimiter(60, 1))
	AddItineraryRoutes(router, &itinerary.Handlers{Repo: repo})
	AddLiveRoutes(router, &live.Server{Repo: repo})

	for _, path := range []string{"/api/plan", "/api/itineraries/abc", "/ws/itineraries/abc"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: code = %d, want auth required", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/shared/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("shared: code = %d", rec.Code)
	}
}
