package models

import "time"

// DateLayout is the canonical on-record date format.
const DateLayout = "2006-01-02"

type Category string

const (
	CategoryFood      Category = "food"
	CategoryActivity  Category = "activity"
	CategoryTransport Category = "transport"
	CategoryFree      Category = "free"
)

// ItineraryItem is a single time-boxed entry of a day. Time is HH:MM, 24h.
type ItineraryItem struct {
	ID                     string   `json:"id" bson:"id"`
	Time                   string   `json:"time" bson:"time"`
	Title                  string   `json:"title" bson:"title"`
	Description            string   `json:"description" bson:"description"`
	Category               Category `json:"category" bson:"category"`
	Duration               string   `json:"duration,omitempty" bson:"duration,omitempty"`
	Location               string   `json:"location,omitempty" bson:"location,omitempty"`
	Includes               []string `json:"includes,omitempty" bson:"includes,omitempty"`
	WhatToBring            []string `json:"whatToBring,omitempty" bson:"what_to_bring,omitempty"`
	DistanceFromPrevious   string   `json:"distanceFromPrevious,omitempty" bson:"distance_from_previous,omitempty"`
	TravelTimeFromPrevious string   `json:"travelTimeFromPrevious,omitempty" bson:"travel_time_from_previous,omitempty"`
	DistanceToNext         string   `json:"distanceToNext,omitempty" bson:"distance_to_next,omitempty"`
	TravelTimeToNext       string   `json:"travelTimeToNext,omitempty" bson:"travel_time_to_next,omitempty"`
	BookingLink            string   `json:"bookingLink,omitempty" bson:"booking_link,omitempty"`
	VendorID               string   `json:"vendorId,omitempty" bson:"vendor_id,omitempty"`
	// set by any direct mutation, never cleared automatically
	IsUserEdited bool `json:"isUserEdited" bson:"is_user_edited"`
}

type ItineraryDay struct {
	Date  string          `json:"date" bson:"date"`
	Title string          `json:"title" bson:"title"`
	Items []ItineraryItem `json:"items" bson:"items"`
}

// Itinerary is the working document. ID is empty until the plan is persisted.
type Itinerary struct {
	ID          string         `json:"id,omitempty" bson:"itineraryid,omitempty"`
	Destination string         `json:"destination" bson:"destination"`
	StartDate   string         `json:"startDate" bson:"start_date"`
	EndDate     string         `json:"endDate" bson:"end_date"`
	Days        []ItineraryDay `json:"days" bson:"days"`
	IsConfirmed bool           `json:"isConfirmed" bson:"is_confirmed"`
	IsPublic    bool           `json:"isPublic" bson:"is_public"`
	ShareToken  string         `json:"shareToken,omitempty" bson:"share_token,omitempty"`
	UserID      string         `json:"userId,omitempty" bson:"user_id,omitempty"`
	// transient, never written to the backing record
	ShareURL string `json:"shareUrl,omitempty" bson:"-"`
}

// Clone returns a deep copy so callers can mutate without aliasing days or items.
func (it Itinerary) Clone() Itinerary {
	out := it
	if it.Days == nil {
		return out
	}
	out.Days = make([]ItineraryDay, len(it.Days))
	for i, d := range it.Days {
		out.Days[i] = d
		out.Days[i].Items = make([]ItineraryItem, len(d.Items))
		for j, item := range d.Items {
			out.Days[i].Items[j] = item.clone()
		}
	}
	return out
}

func (item ItineraryItem) clone() ItineraryItem {
	out := item
	if item.Includes != nil {
		out.Includes = append([]string(nil), item.Includes...)
	}
	if item.WhatToBring != nil {
		out.WhatToBring = append([]string(nil), item.WhatToBring...)
	}
	return out
}

// ItemCount is the number of items across all days.
func (it Itinerary) ItemCount() int {
	n := 0
	for _, d := range it.Days {
		n += len(d.Items)
	}
	return n
}

// Start parses StartDate, returning the zero time when unset or malformed.
func (it Itinerary) Start() time.Time {
	t, err := time.Parse(DateLayout, it.StartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}
