package models

import "time"

// TripFacts is derived from a transcript on demand. Every field is always set.
type TripFacts struct {
	Destination string    `json:"destination"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	DayCount    int       `json:"dayCount"`
}

// ParsedActivity is a candidate itinerary item pulled out of assistant text.
type ParsedActivity struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Time        string   `json:"time,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Location    string   `json:"location,omitempty"`
	Includes    []string `json:"includes,omitempty"`
	WhatToBring []string `json:"whatToBring,omitempty"`
	TravelTime  string   `json:"travelTime,omitempty"`
	BookingLink string   `json:"bookingLink,omitempty"`
	VendorID    string   `json:"vendorId,omitempty"`
	// Day is the 1-based "Day N" section the block appeared under, 0 when none.
	Day int `json:"day,omitempty"`
}
