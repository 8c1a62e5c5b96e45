package routes

import (
	"tripsync/itinerary"
	"tripsync/live"
	"tripsync/middleware"
	"tripsync/planner"
	"tripsync/ratelim"

	"github.com/julienschmidt/httprouter"
)

// AddPlanRoutes mounts the caller's planning session. Chat and share go
// through the limiter since each one costs an upstream call or a write.
func AddPlanRoutes(router *httprouter.Router, h *planner.Handlers, rl *ratelim.RateLimiter) {
	router.GET("/api/plan", middleware.Authenticate(h.GetPlan))
	router.DELETE("/api/plan", middleware.Authenticate(h.Clear))
	router.POST("/api/plan/chat", middleware.Authenticate(rl.Limit(h.Chat)))
	router.GET("/api/plan/facts", middleware.Authenticate(h.Facts))
	router.GET("/api/plan/activities", middleware.Authenticate(h.Activities))
	router.POST("/api/plan/activities", middleware.Authenticate(h.AddActivity))
	router.POST("/api/plan/generate", middleware.Authenticate(h.Generate))
	router.POST("/api/plan/edit", middleware.Authenticate(h.EnterEditMode))
	router.DELETE("/api/plan/edit", middleware.Authenticate(h.ExitEditMode))
	router.PATCH("/api/plan/days/:day/items/:item", middleware.Authenticate(h.UpdateItem))
	router.DELETE("/api/plan/days/:day/items/:item", middleware.Authenticate(h.RemoveItem))
	router.PUT("/api/plan/days/:day/order", middleware.Authenticate(h.ReorderItems))
	router.POST("/api/plan/confirm", middleware.Authenticate(h.Confirm))
	router.DELETE("/api/plan/confirm", middleware.Authenticate(h.Unconfirm))
	router.POST("/api/plan/share", middleware.Authenticate(rl.Limit(h.Share)))
	router.POST("/api/plan/open/:id", middleware.Authenticate(h.Open))
}

func AddItineraryRoutes(router *httprouter.Router, h *itinerary.Handlers) {
	router.GET("/api/itineraries/:id", middleware.Authenticate(h.GetItinerary))
	router.DELETE("/api/itineraries/:id", middleware.Authenticate(h.DeleteItinerary))
	router.GET("/api/itineraries/:id/collaborators", middleware.Authenticate(h.ListCollaborators))
	router.POST("/api/itineraries/:id/collaborators", middleware.Authenticate(h.AddCollaborator))
	router.DELETE("/api/itineraries/:id/collaborators/:cid", middleware.Authenticate(h.RemoveCollaborator))
	router.GET("/api/itineraries/:id/export.ics", middleware.Authenticate(h.ExportICS))
	router.GET("/api/itineraries/:id/export.pdf", middleware.Authenticate(h.ExportPDF))
	router.GET("/api/itineraries/:id/share.png", middleware.Authenticate(h.ShareQRCode))

	// anyone holding the link; signed-in collaborators also see private plans
	router.GET("/api/shared/:token", middleware.OptionalAuth(h.GetShared))
}

func AddLiveRoutes(router *httprouter.Router, srv *live.Server) {
	router.GET("/ws/itineraries/:id", middleware.Authenticate(srv.ServeItinerary))
}
