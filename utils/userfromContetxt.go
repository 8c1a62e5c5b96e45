package utils

import (
	"net/http"

	"tripsync/globals"
	"tripsync/models"
)

func GetUserIDFromRequest(r *http.Request) string {
	ctx := r.Context()
	requestingUserID, ok := ctx.Value(globals.UserIDKey).(string)
	if !ok || requestingUserID == "" {
		return ""
	}
	return requestingUserID
}

func GetEmailFromRequest(r *http.Request) string {
	email, _ := r.Context().Value(globals.EmailKey).(string)
	return email
}

// CallerFromRequest is the identity permission checks are resolved against.
func CallerFromRequest(r *http.Request) models.Caller {
	return models.Caller{UserID: GetUserIDFromRequest(r), Email: GetEmailFromRequest(r)}
}
