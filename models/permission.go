package models

import "strings"

type Permission string

const (
	PermissionNone   Permission = ""
	PermissionViewer Permission = "viewer"
	PermissionEditor Permission = "editor"
	PermissionOwner  Permission = "owner"
)

// CanWrite reports whether the permission allows pushing changes.
func (p Permission) CanWrite() bool {
	return p == PermissionOwner || p == PermissionEditor
}

// CanRead reports whether the permission allows reading the record at all.
func (p Permission) CanRead() bool {
	return p != PermissionNone
}

type Collaborator struct {
	ID          string     `json:"id" bson:"collaboratorid"`
	ItineraryID string     `json:"itineraryId" bson:"itineraryid"`
	Email       string     `json:"email,omitempty" bson:"email,omitempty"`
	UserID      string     `json:"userId,omitempty" bson:"user_id,omitempty"`
	Permission  Permission `json:"permission" bson:"permission"`
}

// Caller identifies who is acting on an itinerary.
type Caller struct {
	UserID string
	Email  string
}

// ResolvePermission applies owner, then collaborator entry, then public viewer.
func ResolvePermission(rec ItineraryRecord, caller Caller, collaborators []Collaborator) Permission {
	if caller.UserID != "" && rec.UserID == caller.UserID {
		return PermissionOwner
	}
	for _, c := range collaborators {
		if c.ItineraryID != "" && c.ItineraryID != rec.ItineraryID {
			continue
		}
		if caller.UserID != "" && c.UserID == caller.UserID {
			return c.Permission
		}
		if caller.Email != "" && c.Email != "" && strings.EqualFold(c.Email, caller.Email) {
			return c.Permission
		}
	}
	if rec.IsPublic {
		return PermissionViewer
	}
	return PermissionNone
}
