package itinerary

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"tripsync/models"
)

var (
	ErrIndexOutOfRange = errors.New("itinerary: index out of range")
	ErrBadOrder        = errors.New("itinerary: order is not a permutation of the day's items")
	ErrBadTime         = errors.New("itinerary: time must be HH:MM")
)

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// AddOptions places a new item. The zero value derives the day from today.
type AddOptions struct {
	// Day is 1-based; 0 derives the day from Date relative to the plan start.
	Day int
	// Date the item implies; zero means Today.
	Date   time.Time
	Today  time.Time
	FromAI bool
}

// AddItem returns a copy of it with item appended to a day, and the 0-based
// index of that day. An index past the last day appends exactly one new day.
func AddItem(it models.Itinerary, item models.ItineraryItem, opts AddOptions) (models.Itinerary, int) {
	out := it.Clone()
	today := dateOnly(lo.Ternary(opts.Today.IsZero(), time.Now(), opts.Today))

	start := out.Start()
	if start.IsZero() {
		start = today
		out.StartDate = start.Format(models.DateLayout)
	}

	idx := opts.Day - 1
	if opts.Day <= 0 {
		implied := lo.Ternary(opts.Date.IsZero(), today, dateOnly(opts.Date))
		idx = int(implied.Sub(start).Hours() / 24)
	}
	idx = lo.Clamp(idx, 0, len(out.Days))

	if idx == len(out.Days) {
		out.Days = append(out.Days, NewDay(start, idx))
		if last := out.Days[idx].Date; last > out.EndDate {
			out.EndDate = last
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Category == "" {
		item.Category = models.CategoryActivity
	}
	item.IsUserEdited = item.IsUserEdited || !opts.FromAI
	out.Days[idx].Items = append(out.Days[idx].Items, item)
	return out, idx
}

// ItemPatch carries the fields to change. Nil fields are left alone.
type ItemPatch struct {
	Time        *string          `json:"time,omitempty"`
	Title       *string          `json:"title,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Category    *models.Category `json:"category,omitempty" validate:"omitempty,oneof=food activity transport free"`
	Duration    *string          `json:"duration,omitempty"`
	Location    *string          `json:"location,omitempty"`
	Includes    *[]string        `json:"includes,omitempty"`
	WhatToBring *[]string        `json:"whatToBring,omitempty"`
	BookingLink *string          `json:"bookingLink,omitempty" validate:"omitempty,url"`
}

// UpdateItem applies patch to one item and latches IsUserEdited.
func UpdateItem(it models.Itinerary, day, item int, patch ItemPatch) (models.Itinerary, error) {
	if err := checkIndex(it, day, item); err != nil {
		return it, err
	}
	if patch.Time != nil && *patch.Time != "" && !clockRe.MatchString(*patch.Time) {
		return it, fmt.Errorf("%w: %q", ErrBadTime, *patch.Time)
	}

	out := it.Clone()
	target := &out.Days[day].Items[item]
	setIf(&target.Time, patch.Time)
	setIf(&target.Title, patch.Title)
	setIf(&target.Description, patch.Description)
	setIf(&target.Category, patch.Category)
	setIf(&target.Duration, patch.Duration)
	setIf(&target.Location, patch.Location)
	setIf(&target.BookingLink, patch.BookingLink)
	if patch.Includes != nil {
		target.Includes = append([]string(nil), (*patch.Includes)...)
	}
	if patch.WhatToBring != nil {
		target.WhatToBring = append([]string(nil), (*patch.WhatToBring)...)
	}
	target.IsUserEdited = true
	return out, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// RemoveItem drops one item. Empty days are kept.
func RemoveItem(it models.Itinerary, day, item int) (models.Itinerary, error) {
	if err := checkIndex(it, day, item); err != nil {
		return it, err
	}
	out := it.Clone()
	items := out.Days[day].Items
	out.Days[day].Items = append(items[:item:item], items[item+1:]...)
	return out, nil
}

// ReorderItems rearranges a day so that position i holds the item previously at
// order[i]. Items that change position are marked as user edited.
func ReorderItems(it models.Itinerary, day int, order []int) (models.Itinerary, error) {
	if day < 0 || day >= len(it.Days) {
		return it, ErrIndexOutOfRange
	}
	items := it.Days[day].Items
	if len(order) != len(items) || len(lo.Uniq(order)) != len(order) {
		return it, ErrBadOrder
	}
	if lo.SomeBy(order, func(i int) bool { return i < 0 || i >= len(items) }) {
		return it, ErrBadOrder
	}

	out := it.Clone()
	src := out.Days[day].Items
	reordered := make([]models.ItineraryItem, len(src))
	for pos, from := range order {
		reordered[pos] = src[from]
		if pos != from {
			reordered[pos].IsUserEdited = true
		}
	}
	out.Days[day].Items = reordered
	return out, nil
}

// SortDay orders a day's items by time. Untimed items keep their relative order
// and go last.
func SortDay(d models.ItineraryDay) models.ItineraryDay {
	items := append([]models.ItineraryItem(nil), d.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Time, items[j].Time
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})
	d.Items = items
	return d
}

// NewDay builds the empty day at 0-based index idx of a plan starting at start.
func NewDay(start time.Time, idx int) models.ItineraryDay {
	return models.ItineraryDay{
		Date:  start.AddDate(0, 0, idx).Format(models.DateLayout),
		Title: "Day " + strconv.Itoa(idx+1),
		Items: []models.ItineraryItem{},
	}
}

// NewDays builds count empty consecutive days.
func NewDays(start time.Time, count int) []models.ItineraryDay {
	return lo.Times(count, func(i int) models.ItineraryDay { return NewDay(start, i) })
}

// ActivityToItem converts a parsed candidate into an AI-authored item.
func ActivityToItem(act models.ParsedActivity) models.ItineraryItem {
	return models.ItineraryItem{
		ID:                     uuid.NewString(),
		Time:                   act.Time,
		Title:                  act.Title,
		Description:            act.Description,
		Category:               lo.Ternary(act.Category == "", models.CategoryActivity, act.Category),
		Duration:               act.Duration,
		Location:               act.Location,
		Includes:               act.Includes,
		WhatToBring:            act.WhatToBring,
		TravelTimeFromPrevious: act.TravelTime,
		BookingLink:            act.BookingLink,
		VendorID:               act.VendorID,
	}
}

// DisplayTime renders a 24h "HH:MM" as "h:MM AM/PM". Anything else is returned as is.
func DisplayTime(hhmm string) string {
	if !clockRe.MatchString(hhmm) {
		return hhmm
	}
	h, _ := strconv.Atoi(hhmm[:2])
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	if h%12 == 0 {
		h = 12
	} else {
		h %= 12
	}
	return strconv.Itoa(h) + ":" + hhmm[3:] + " " + suffix
}

func checkIndex(it models.Itinerary, day, item int) error {
	if day < 0 || day >= len(it.Days) {
		return fmt.Errorf("%w: day %d", ErrIndexOutOfRange, day)
	}
	if item < 0 || item >= len(it.Days[day].Items) {
		return fmt.Errorf("%w: item %d of day %d", ErrIndexOutOfRange, item, day)
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
