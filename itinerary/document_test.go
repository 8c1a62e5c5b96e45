package itinerary

import (
	"errors"
	"testing"
	"time"

	"tripsync/models"
)

var today = time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC)

func twoDayPlan() models.Itinerary {
	days := NewDays(today, 2)
	days[0].Items = []models.ItineraryItem{
		{ID: "a", Time: "09:00", Title: "Cenote swim", Category: models.CategoryActivity},
		{ID: "b", Time: "12:30", Title: "Taco lunch", Category: models.CategoryFood},
		{ID: "c", Time: "19:00", Title: "Sunset dinner", Category: models.CategoryFood},
	}
	return models.Itinerary{
		Destination: "Tulum",
		StartDate:   "2026-10-15",
		EndDate:     "2026-10-16",
		Days:        days,
	}
}

func TestAddItemDerivesDayFromDate(t *testing.T) {
	plan := twoDayPlan()
	out, idx := AddItem(plan, models.ItineraryItem{Title: "Ruins walk"}, AddOptions{
		Date:  today.AddDate(0, 0, 1),
		Today: today,
	})
	if idx != 1 || len(out.Days[1].Items) != 1 {
		t.Fatalf("idx = %d items = %+v", idx, out.Days[1].Items)
	}
	got := out.Days[1].Items[0]
	if got.ID == "" || !got.IsUserEdited || got.Category != models.CategoryActivity {
		t.Errorf("item = %+v", got)
	}
	if len(plan.Days[1].Items) != 0 {
		t.Error("input plan was mutated")
	}
}

func TestAddItemAppendsOneDayPastEnd(t *testing.T) {
	out, idx := AddItem(twoDayPlan(), models.ItineraryItem{Title: "Boat trip"}, AddOptions{
		Date:   today.AddDate(0, 0, 9),
		Today:  today,
		FromAI: true,
	})
	if idx != 2 || len(out.Days) != 3 {
		t.Fatalf("idx = %d days = %d", idx, len(out.Days))
	}
	if out.Days[2].Date != "2026-10-17" || out.Days[2].Title != "Day 3" || out.EndDate != "2026-10-17" {
		t.Errorf("new day = %+v end = %s", out.Days[2], out.EndDate)
	}
	if out.Days[2].Items[0].IsUserEdited {
		t.Error("AI item should not be marked as edited")
	}
}

func TestAddItemBeforeStartClampsToFirstDay(t *testing.T) {
	_, idx := AddItem(twoDayPlan(), models.ItineraryItem{Title: "Early bird"}, AddOptions{
		Date:  today.AddDate(0, 0, -4),
		Today: today,
	})
	if idx != 0 {
		t.Fatalf("idx = %d", idx)
	}
}

func TestAddItemOnEmptyPlan(t *testing.T) {
	out, idx := AddItem(models.Itinerary{}, models.ItineraryItem{Title: "Coffee"}, AddOptions{Day: 3, Today: today})
	if idx != 0 || len(out.Days) != 1 {
		t.Fatalf("idx = %d days = %d", idx, len(out.Days))
	}
	if out.StartDate != "2026-10-15" || out.Days[0].Date != "2026-10-15" {
		t.Errorf("start = %s day = %+v", out.StartDate, out.Days[0])
	}
}

func TestUpdateItemLatchesEdited(t *testing.T) {
	plan := twoDayPlan()
	title := "Gran Cenote swim"
	food := models.CategoryFood
	out, err := UpdateItem(plan, 0, 0, ItemPatch{Title: &title, Category: &food})
	if err != nil {
		t.Fatal(err)
	}
	got := out.Days[0].Items[0]
	if got.Title != title || got.Category != food || got.Time != "09:00" || !got.IsUserEdited {
		t.Errorf("item = %+v", got)
	}
	if plan.Days[0].Items[0].Title != "Cenote swim" {
		t.Error("input plan was mutated")
	}
}

func TestUpdateItemRejects(t *testing.T) {
	plan := twoDayPlan()
	if _, err := UpdateItem(plan, 5, 0, ItemPatch{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("day out of range: %v", err)
	}
	if _, err := UpdateItem(plan, 1, 0, ItemPatch{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("item out of range: %v", err)
	}
	bad := "9am"
	if _, err := UpdateItem(plan, 0, 0, ItemPatch{Time: &bad}); !errors.Is(err, ErrBadTime) {
		t.Errorf("bad time: %v", err)
	}
}

func TestRemoveItem(t *testing.T) {
	plan := twoDayPlan()
	out, err := RemoveItem(plan, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{out.Days[0].Items[0].ID, out.Days[0].Items[1].ID}
	if len(out.Days[0].Items) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("items = %+v", out.Days[0].Items)
	}
	if len(plan.Days[0].Items) != 3 || plan.Days[0].Items[1].ID != "b" {
		t.Error("input plan was mutated")
	}
}

func TestReorderItems(t *testing.T) {
	out, err := ReorderItems(twoDayPlan(), 0, []int{2, 1, 0})
	if err != nil {
		t.Fatal(err)
	}
	items := out.Days[0].Items
	if items[0].ID != "c" || items[1].ID != "b" || items[2].ID != "a" {
		t.Fatalf("order = %s %s %s", items[0].ID, items[1].ID, items[2].ID)
	}
	if !items[0].IsUserEdited || items[1].IsUserEdited || !items[2].IsUserEdited {
		t.Errorf("edited flags = %v %v %v", items[0].IsUserEdited, items[1].IsUserEdited, items[2].IsUserEdited)
	}
}

func TestReorderItemsRejectsBadOrder(t *testing.T) {
	plan := twoDayPlan()
	for _, order := range [][]int{{0, 1}, {0, 0, 1}, {0, 1, 3}, {-1, 0, 1}} {
		if _, err := ReorderItems(plan, 0, order); !errors.Is(err, ErrBadOrder) {
			t.Errorf("order %v: err = %v", order, err)
		}
	}
	if _, err := ReorderItems(plan, 4, nil); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("day out of range: %v", err)
	}
}

func TestSortDay(t *testing.T) {
	d := models.ItineraryDay{Items: []models.ItineraryItem{
		{ID: "x"}, {ID: "late", Time: "19:00"}, {ID: "y"}, {ID: "early", Time: "08:15"},
	}}
	got := SortDay(d).Items
	want := []string{"early", "late", "x", "y"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	if d.Items[0].ID != "x" {
		t.Error("input day was mutated")
	}
}

func TestActivityToItem(t *testing.T) {
	item := ActivityToItem(models.ParsedActivity{Title: "Kayak", TravelTime: "10 min", VendorID: "42"})
	if item.ID == "" || item.Category != models.CategoryActivity || item.IsUserEdited {
		t.Errorf("item = %+v", item)
	}
	if item.TravelTimeFromPrevious != "10 min" || item.VendorID != "42" {
		t.Errorf("item = %+v", item)
	}
}

func TestDisplayTime(t *testing.T) {
	cases := map[string]string{
		"00:05": "12:05 AM",
		"09:00": "9:00 AM",
		"12:00": "12:00 PM",
		"14:30": "2:30 PM",
		"":      "",
		"late":  "late",
	}
	for in, want := range cases {
		if got := DisplayTime(in); got != want {
			t.Errorf("DisplayTime(%q) = %q, want %q", in, got, want)
		}
	}
}
