package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ItineraryRecord is the backing-store row. The document itself lives in the
// opaque Document blob; destination and dates are duplicated as columns for lookup.
type ItineraryRecord struct {
	ItineraryID string         `json:"itineraryid" bson:"itineraryid"`
	ShareToken  string         `json:"share_token,omitempty" bson:"share_token,omitempty"`
	Destination string         `json:"destination" bson:"destination"`
	StartDate   string         `json:"start_date" bson:"start_date"`
	EndDate     string         `json:"end_date" bson:"end_date"`
	Document    []ItineraryDay `json:"itinerary" bson:"itinerary"`
	IsConfirmed bool           `json:"is_confirmed" bson:"is_confirmed"`
	IsPublic    bool           `json:"is_public" bson:"is_public"`
	UserID      string         `json:"user_id" bson:"user_id"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"updated_at"`
	Deleted     bool           `json:"-" bson:"deleted,omitempty"`
}

// ToRecord drops the transient share URL and lays the document out as a row.
func ToRecord(it Itinerary) ItineraryRecord {
	doc := it.Clone()
	return ItineraryRecord{
		ItineraryID: doc.ID,
		ShareToken:  doc.ShareToken,
		Destination: doc.Destination,
		StartDate:   doc.StartDate,
		EndDate:     doc.EndDate,
		Document:    doc.Days,
		IsConfirmed: doc.IsConfirmed,
		IsPublic:    doc.IsPublic,
		UserID:      doc.UserID,
	}
}

// FromRecord rebuilds the document. shareBase, when set, re-attaches the share URL.
func FromRecord(rec ItineraryRecord, shareBase string) Itinerary {
	it := Itinerary{
		ID:          rec.ItineraryID,
		Destination: rec.Destination,
		StartDate:   rec.StartDate,
		EndDate:     rec.EndDate,
		Days:        rec.Document,
		IsConfirmed: rec.IsConfirmed,
		IsPublic:    rec.IsPublic,
		ShareToken:  rec.ShareToken,
		UserID:      rec.UserID,
	}
	if it.Days == nil {
		it.Days = []ItineraryDay{}
	}
	if shareBase != "" && rec.ShareToken != "" {
		it.ShareURL = ShareURL(shareBase, rec.ShareToken)
	}
	return it.Clone()
}

// ShareURL joins the public base and a share token.
func ShareURL(base, token string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/shared/" + token
}

type fingerprintShape struct {
	ID          string         `json:"id"`
	Destination string         `json:"destination"`
	StartDate   string         `json:"start"`
	EndDate     string         `json:"end"`
	Days        []ItineraryDay `json:"days"`
	IsConfirmed bool           `json:"confirmed"`
	IsPublic    bool           `json:"public"`
	ShareToken  string         `json:"token"`
	UserID      string         `json:"owner"`
}

// Fingerprint is a stable digest of the persisted content of a row. UpdatedAt and
// the deleted flag are not part of the content.
func Fingerprint(rec ItineraryRecord) string {
	days := make([]ItineraryDay, len(rec.Document))
	copy(days, rec.Document)
	for i := range days {
		if days[i].Items == nil {
			days[i].Items = []ItineraryItem{}
		}
	}
	data, err := json.Marshal(fingerprintShape{
		ID:          rec.ItineraryID,
		Destination: rec.Destination,
		StartDate:   rec.StartDate,
		EndDate:     rec.EndDate,
		Days:        days,
		IsConfirmed: rec.IsConfirmed,
		IsPublic:    rec.IsPublic,
		ShareToken:  rec.ShareToken,
		UserID:      rec.UserID,
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
