package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"tripsync/apperr"
	"tripsync/chat"
	"tripsync/db"
	"tripsync/extract"
	"tripsync/itinerary"
	"tripsync/lifecycle"
	"tripsync/models"
	"tripsync/utils"
)

type Handlers struct {
	Plans *Registry
}

type planResponse struct {
	lifecycle.Status
	Messages []models.Message `json:"messages"`
	Busy     bool             `json:"busy"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

type generateRequest struct {
	Mode lifecycle.Mode `json:"mode" validate:"omitempty,oneof=full improve"`
}

type activityRequest struct {
	// Index picks one of the suggestions from GET /api/plan/activities.
	Index       *int            `json:"index" validate:"omitempty,min=0"`
	Title       string          `json:"title" validate:"omitempty,min=3,max=100"`
	Description string          `json:"description" validate:"max=2000"`
	Category    models.Category `json:"category" validate:"omitempty,oneof=food activity transport free"`
	Time        string          `json:"time" validate:"omitempty,datetime=15:04"`
	Duration    string          `json:"duration"`
	Location    string          `json:"location"`
	BookingLink string          `json:"bookingLink" validate:"omitempty,url"`
	Day         int             `json:"day" validate:"min=0"`
}

type orderRequest struct {
	Order []int `json:"order" validate:"required"`
}

var stateErrors = []struct {
	err    error
	status int
	msg    string
}{
	{lifecycle.ErrConfirmed, http.StatusConflict, "This itinerary is confirmed. Unlock it to make changes."},
	{lifecycle.ErrGenerating, http.StatusConflict, "The itinerary is still being generated."},
	{lifecycle.ErrNotEditing, http.StatusConflict, "Turn on edit mode to change items."},
	{lifecycle.ErrEmpty, http.StatusConflict, "There is no itinerary yet."},
	{chat.ErrBusy, http.StatusConflict, "Please wait for the current reply to finish."},
	{chat.ErrCleared, http.StatusConflict, "The conversation was cleared."},
	{chat.ErrEmptyMessage, http.StatusBadRequest, "Message is empty."},
	{itinerary.ErrIndexOutOfRange, http.StatusBadRequest, "No such day or item."},
	{itinerary.ErrBadOrder, http.StatusBadRequest, "Order must list every item of the day exactly once."},
	{itinerary.ErrBadTime, http.StatusBadRequest, "Time must be HH:MM."},
}

func errorBody(ae *apperr.Error) utils.M {
	return utils.M{"error": ae.Message, "kind": ae.Kind, "retryable": ae.Retryable}
}

func respondErr(w http.ResponseWriter, err error) {
	for _, se := range stateErrors {
		if errors.Is(err, se.err) {
			utils.RespondWithError(w, se.status, se.msg)
			return
		}
	}
	ae := apperr.Classify(err)
	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindPermission:
		status = http.StatusForbidden
	case apperr.KindNoData:
		status = http.StatusUnprocessableEntity
	case apperr.KindNetwork, apperr.KindParse:
		status = http.StatusBadGateway
	}
	utils.RespondWithJSON(w, status, errorBody(ae))
}

func (h *Handlers) plan(w http.ResponseWriter, r *http.Request) (*Plan, bool) {
	caller := utils.CallerFromRequest(r)
	if caller.UserID == "" {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	p, err := h.Plans.Plan(r.Context(), caller)
	if err != nil {
		log.Printf("[Planner] session for %s: %v", caller.UserID, err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Could not load your plan")
		return nil, false
	}
	return p, true
}

func respondPlan(w http.ResponseWriter, p *Plan, status int) {
	utils.RespondWithJSON(w, status, planResponse{
		Status:   p.Ctrl.Status(),
		Messages: p.Chat.Transcript(),
		Busy:     p.Chat.Busy(),
	})
}

// GET /api/plan
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if p, ok := h.plan(w, r); ok {
		respondPlan(w, p, http.StatusOK)
	}
}

// POST /api/plan/chat
// The reply is streamed as server-sent events: "message" for every growth of
// the text, then "done" or "error".
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := utils.DecodeAndValidate(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	if p.Chat.Busy() {
		respondErr(w, chat.ErrBusy)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	reply, err := p.Chat.Send(r.Context(), req.Message, func(partial string) {
		writeEvent(w, "message", utils.M{"content": partial})
		flusher.Flush()
	})
	if err != nil {
		writeEvent(w, "error", errorBody(apperr.Classify(err)))
		flusher.Flush()
		return
	}
	writeEvent(w, "done", utils.M{
		"content":    reply,
		"activities": len(extract.Activities([]models.Message{{Role: models.RoleAssistant, Content: reply}})),
	})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Planner] encode %s event: %v", event, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// GET /api/plan/facts
func (h *Handlers) Facts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if p, ok := h.plan(w, r); ok {
		utils.RespondWithJSON(w, http.StatusOK, p.Ctrl.Facts(p.Chat.Transcript()))
	}
}

// GET /api/plan/activities
func (h *Handlers) Activities(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	acts := extract.Activities(p.Chat.Transcript())
	if acts == nil {
		acts = []models.ParsedActivity{}
	}
	utils.RespondWithJSON(w, http.StatusOK, acts)
}

// POST /api/plan/generate
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := utils.DecodeAndValidate(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := p.Ctrl.Generate(r.Context(), p.Chat.Transcript(), req.Mode); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// POST /api/plan/activities
func (h *Handlers) AddActivity(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if err := utils.DecodeAndValidate(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	transcript := p.Chat.Transcript()
	var act models.ParsedActivity
	switch {
	case req.Index != nil:
		acts := extract.Activities(transcript)
		if *req.Index >= len(acts) {
			utils.RespondWithError(w, http.StatusBadRequest, "No such suggestion")
			return
		}
		act = acts[*req.Index]
	case req.Title != "":
		act = models.ParsedActivity{
			Title:       req.Title,
			Description: req.Description,
			Category:    req.Category,
			Time:        req.Time,
			Duration:    req.Duration,
			Location:    req.Location,
			BookingLink: req.BookingLink,
			Day:         req.Day,
		}
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "Either index or title is required")
		return
	}

	if _, err := p.Ctrl.AddActivity(r.Context(), transcript, act); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusCreated)
}

// POST /api/plan/edit
func (h *Handlers) EnterEditMode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	if err := p.Ctrl.EnterEditMode(); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// DELETE /api/plan/edit
func (h *Handlers) ExitEditMode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if p, ok := h.plan(w, r); ok {
		p.Ctrl.ExitEditMode()
		respondPlan(w, p, http.StatusOK)
	}
}

// PATCH /api/plan/days/:day/items/:item
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	day, item, ok := dayItem(w, ps)
	if !ok {
		return
	}
	var patch itinerary.ItemPatch
	if err := utils.DecodeAndValidate(w, r, &patch); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := p.Ctrl.UpdateItem(r.Context(), day, item, patch); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// DELETE /api/plan/days/:day/items/:item
func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	day, item, ok := dayItem(w, ps)
	if !ok {
		return
	}
	if _, err := p.Ctrl.RemoveItem(r.Context(), day, item); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// PUT /api/plan/days/:day/order
func (h *Handlers) ReorderItems(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	day, err := utils.ParamInt(ps, "day")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req orderRequest
	if err := utils.DecodeAndValidate(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := p.Ctrl.ReorderItems(r.Context(), day, req.Order); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

func dayItem(w http.ResponseWriter, ps httprouter.Params) (int, int, bool) {
	day, err := utils.ParamInt(ps, "day")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	item, err := utils.ParamInt(ps, "item")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return day, item, true
}

// POST /api/plan/confirm
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if _, err := p.Ctrl.Confirm(ctx); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// DELETE /api/plan/confirm
func (h *Handlers) Unconfirm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	if _, err := p.Ctrl.Unconfirm(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// POST /api/plan/share
func (h *Handlers) Share(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	url, err := p.Ctrl.GenerateShareLink(ctx)
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"url": url})
}

// DELETE /api/plan
func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	if err := p.Chat.Clear(r.Context()); err != nil {
		log.Printf("[Planner] clear chat for %s: %v", p.UserID, err)
	}
	if err := p.Ctrl.Clear(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}

// POST /api/plan/open/:id
func (h *Handlers) Open(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.plan(w, r)
	if !ok {
		return
	}
	id := ps.ByName("id")
	repo := h.Plans.cfg.Repo

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rec, err := repo.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return
	}
	if err != nil {
		respondErr(w, apperr.Network("Could not load the itinerary.", err))
		return
	}
	collaborators, err := repo.ListCollaborators(ctx, id)
	if err != nil {
		respondErr(w, apperr.Network("Could not load the itinerary.", err))
		return
	}
	perm := models.ResolvePermission(rec, utils.CallerFromRequest(r), collaborators)
	if !perm.CanRead() {
		utils.RespondWithError(w, http.StatusNotFound, "Itinerary not found")
		return
	}

	if err := p.Ctrl.Open(ctx, models.FromRecord(rec, h.Plans.cfg.ShareBase), perm); err != nil {
		respondErr(w, err)
		return
	}
	respondPlan(w, p, http.StatusOK)
}
