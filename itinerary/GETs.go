package itinerary

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"tripsync/db"
	"tripsync/models"
	"tripsync/utils"
)

type itineraryResponse struct {
	Itinerary  models.Itinerary  `json:"itinerary"`
	Permission models.Permission `json:"permission"`
}

// GET /api/itineraries/:id
func (h *Handlers) GetItinerary(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, perm, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, itineraryResponse{
		Itinerary:  models.FromRecord(rec, h.ShareBase),
		Permission: perm,
	})
}

// GET /api/shared/:token
func (h *Handlers) GetShared(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, ok := h.shared(w, r, ps.ByName("token"))
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, itineraryResponse{
		Itinerary:  models.FromRecord(rec, h.ShareBase),
		Permission: models.PermissionViewer,
	})
}

// shared resolves a share token. Records that were made private again are
// only visible to people with access anyway.
func (h *Handlers) shared(w http.ResponseWriter, r *http.Request, token string) (models.ItineraryRecord, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.Repo.GetByShareToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return rec, false
	}
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching itinerary")
		return rec, false
	}
	if rec.IsPublic {
		return rec, true
	}
	collaborators, err := h.Repo.ListCollaborators(ctx, rec.ItineraryID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching collaborators")
		return rec, false
	}
	if !models.ResolvePermission(rec, utils.CallerFromRequest(r), collaborators).CanRead() {
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return rec, false
	}
	return rec, true
}
