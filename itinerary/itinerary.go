package itinerary

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"tripsync/db"
	"tripsync/models"
	"tripsync/utils"
)

// Handlers serves persisted itineraries and their collaborators.
type Handlers struct {
	Repo      db.Repository
	ShareBase string
}

type collaboratorRequest struct {
	Email      string            `json:"email" validate:"omitempty,email"`
	UserID     string            `json:"userId" validate:"required_without=Email"`
	Permission models.Permission `json:"permission" validate:"required,oneof=viewer editor"`
}

// load fetches the record and resolves the caller's permission, answering the
// request itself when either fails.
func (h *Handlers) load(w http.ResponseWriter, r *http.Request, id string) (models.ItineraryRecord, models.Permission, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.Repo.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return rec, models.PermissionNone, false
	}
	if err != nil {
		log.Printf("[Itinerary] load %s: %v", id, err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching itinerary")
		return rec, models.PermissionNone, false
	}
	collaborators, err := h.Repo.ListCollaborators(ctx, id)
	if err != nil {
		log.Printf("[Itinerary] collaborators of %s: %v", id, err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching collaborators")
		return rec, models.PermissionNone, false
	}
	perm := models.ResolvePermission(rec, utils.CallerFromRequest(r), collaborators)
	if !perm.CanRead() {
		// no hint that the record exists
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return rec, perm, false
	}
	return rec, perm, true
}

// DELETE /api/itineraries/:id
func (h *Handlers) DeleteItinerary(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	_, perm, ok := h.load(w, r, id)
	if !ok {
		return
	}
	if perm != models.PermissionOwner {
		utils.RespondWithError(w, http.StatusForbidden, "Only the owner can delete this itinerary")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Repo.Delete(ctx, id); err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error deleting itinerary")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/itineraries/:id/collaborators
func (h *Handlers) ListCollaborators(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if _, _, ok := h.load(w, r, id); !ok {
		return
	}
	list, err := h.Repo.ListCollaborators(r.Context(), id)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching collaborators")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

// POST /api/itineraries/:id/collaborators
func (h *Handlers) AddCollaborator(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	_, perm, ok := h.load(w, r, id)
	if !ok {
		return
	}
	if perm != models.PermissionOwner {
		utils.RespondWithError(w, http.StatusForbidden, "Only the owner can share this itinerary")
		return
	}

	var req collaboratorRequest
	if err := utils.DecodeAndValidate(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	c, err := h.Repo.AddCollaborator(ctx, models.Collaborator{
		ItineraryID: id,
		Email:       req.Email,
		UserID:      req.UserID,
		Permission:  req.Permission,
	})
	if err != nil {
		log.Printf("[Itinerary] add collaborator to %s: %v", id, err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Error adding collaborator")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, c)
}

// DELETE /api/itineraries/:id/collaborators/:cid
func (h *Handlers) RemoveCollaborator(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	_, perm, ok := h.load(w, r, id)
	if !ok {
		return
	}
	if perm != models.PermissionOwner {
		utils.RespondWithError(w, http.StatusForbidden, "Only the owner can change collaborators")
		return
	}

	err := h.Repo.RemoveCollaborator(r.Context(), id, ps.ByName("cid"))
	if errors.Is(err, db.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Collaborator not found")
		return
	}
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error removing collaborator")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
