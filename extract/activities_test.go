package extract

import (
	"reflect"
	"strings"
	"testing"

	"tripsync/models"
)

const tulumReply = `Welcome to Tulum! Here is your 3 days plan.

**Day 1**

**9:00 AM Cenote Snorkeling Tour (3 hours)**
Swim through crystal caverns with a certified guide.
**Location:** Gran Cenote
**What's included:**
- Snorkel gear
- Guide
**What to bring:** towel, sunscreen and cash
15 minute drive from town
[Book now](https://example.com/vendors/4521)

**Taco Crawl**
Time: 7pm
Sample the best street tacos downtown.

**Day 2**

**Pro Tips**
Bring water.

**Sunrise Kayak at Bacalar**
Paddle out early.
`

func TestActivitiesParsesBlocks(t *testing.T) {
	acts := Activities([]models.Message{user("plan Tulum"), assistant(tulumReply)})
	if len(acts) != 3 {
		t.Fatalf("got %d activities: %+v", len(acts), acts)
	}

	snorkel := acts[0]
	if snorkel.Title != "Cenote Snorkeling Tour" {
		t.Errorf("title = %q", snorkel.Title)
	}
	if snorkel.Time != "09:00" || snorkel.Duration != "3 hours" {
		t.Errorf("time = %q duration = %q", snorkel.Time, snorkel.Duration)
	}
	if snorkel.Location != "Gran Cenote" {
		t.Errorf("location = %q", snorkel.Location)
	}
	if !reflect.DeepEqual(snorkel.Includes, []string{"Snorkel gear", "Guide"}) {
		t.Errorf("includes = %q", snorkel.Includes)
	}
	if !reflect.DeepEqual(snorkel.WhatToBring, []string{"towel", "sunscreen", "cash"}) {
		t.Errorf("whatToBring = %q", snorkel.WhatToBring)
	}
	if snorkel.TravelTime != "15 minute" {
		t.Errorf("travelTime = %q", snorkel.TravelTime)
	}
	if snorkel.BookingLink != "https://example.com/vendors/4521" || snorkel.VendorID != "4521" {
		t.Errorf("booking = %q vendor = %q", snorkel.BookingLink, snorkel.VendorID)
	}
	if !strings.HasPrefix(snorkel.Description, "Swim through crystal caverns") {
		t.Errorf("description = %q", snorkel.Description)
	}
	if strings.Contains(snorkel.Description, "Gran Cenote") || strings.Contains(snorkel.Description, "Snorkel gear") {
		t.Errorf("description leaked labelled fields: %q", snorkel.Description)
	}
	if snorkel.Category != models.CategoryActivity || snorkel.Day != 1 {
		t.Errorf("category = %q day = %d", snorkel.Category, snorkel.Day)
	}

	tacos := acts[1]
	if tacos.Title != "Taco Crawl" || tacos.Category != models.CategoryFood {
		t.Errorf("tacos = %+v", tacos)
	}
	if tacos.Time != "19:00" || tacos.Day != 1 {
		t.Errorf("time = %q day = %d", tacos.Time, tacos.Day)
	}

	if acts[2].Title != "Sunrise Kayak at Bacalar" || acts[2].Day != 2 {
		t.Errorf("kayak = %+v", acts[2])
	}
}

func TestActivitiesKeepsDuplicates(t *testing.T) {
	msg := assistant("**Beach Picnic**\nSandwiches by the water.")
	acts := Activities([]models.Message{msg, msg})
	if len(acts) != 2 || acts[0].Title != acts[1].Title {
		t.Fatalf("acts = %+v", acts)
	}
}

func TestActivitiesRejectsTitles(t *testing.T) {
	text := "**Go**\nToo short.\n\n**Important Notes**\nNone.\n\n**" + strings.Repeat("x", 101) + "**\nToo long."
	if acts := Activities([]models.Message{assistant(text)}); len(acts) != 0 {
		t.Fatalf("acts = %+v", acts)
	}
}

func TestActivitiesIgnoresUserMessages(t *testing.T) {
	if acts := Activities([]models.Message{user("**Museum Visit**\nplease")}); len(acts) != 0 {
		t.Fatalf("acts = %+v", acts)
	}
}

func TestActivitiesDayLineInBody(t *testing.T) {
	text := "**Beach Morning**\nRelax on the sand.\nDay 3\n\n**Night Market Tour**\nStalls and lanterns."
	acts := Activities([]models.Message{assistant(text)})
	if len(acts) != 2 {
		t.Fatalf("acts = %+v", acts)
	}
	if acts[0].Day != 0 || acts[1].Day != 3 {
		t.Errorf("days = %d, %d", acts[0].Day, acts[1].Day)
	}
	if acts[0].Description != "Relax on the sand." {
		t.Errorf("description = %q", acts[0].Description)
	}
	// food words win over adventure words
	if acts[1].Category != models.CategoryFood {
		t.Errorf("category = %q", acts[1].Category)
	}
}

func TestDescriptionTruncated(t *testing.T) {
	text := "**Old Town Walk**\n" + strings.Repeat("cobblestones ", 40)
	acts := Activities([]models.Message{assistant(text)})
	if len(acts) != 1 {
		t.Fatalf("acts = %+v", acts)
	}
	if r := []rune(acts[0].Description); len(r) > maxDescription+1 || !strings.HasSuffix(acts[0].Description, "…") {
		t.Fatalf("description = %q", acts[0].Description)
	}
}

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"9am":     "09:00",
		"9:30 PM": "21:30",
		"14:00":   "14:00",
		"12am":    "00:00",
		"12pm":    "12:00",
		"7 p.m.":  "19:00",
		"25:00":   "",
		"9":       "",
		"":        "",
	}
	for in, want := range cases {
		if got := normalizeTime(in); got != want {
			t.Errorf("normalizeTime(%q) = %q, want %q", in, got, want)
		}
	}
}
