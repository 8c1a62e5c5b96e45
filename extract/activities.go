package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"tripsync/models"
)

const (
	minTitleLen    = 3
	maxTitleLen    = 100
	maxDescription = 300
)

var (
	headingRe = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•][ \t]+|\d+[.)][ \t]+|#{1,6}[ \t]+)?\*\*([^*\n]+?)\*\*[ \t]*:?[ \t]*(.*)$`)
	dayRe     = regexp.MustCompile(`(?i)^day\s*(\d{1,2})\b`)
	dayLineRe = regexp.MustCompile(`(?im)^[ \t]*#*[ \t]*day\s*(\d{1,2})\b`)

	labelLineRe     = regexp.MustCompile(`(?i)^[\s\-*•]*(duration|location|address|where|meeting point|what'?s included|what is included|what to bring|time|when|price|cost|travel time)\s*:`)
	durationLabelRe = regexp.MustCompile(`(?i)duration\s*:\s*([^\n]+)`)
	parenDurRe      = regexp.MustCompile(`(?i)\((\d+(?:\.\d+)?(?:\s*-\s*\d+(?:\.\d+)?)?\s*(?:hours?|hrs?|minutes?|mins?))\)`)
	includesRe      = regexp.MustCompile(`(?i)(?:what'?s|what is)\s+included\s*:[ \t]*([^\n]*)`)
	bringRe         = regexp.MustCompile(`(?i)what\s+to\s+bring\s*:[ \t]*([^\n]*)`)
	locationRe      = regexp.MustCompile(`(?i)(?:location|address|where|meeting point)\s*:\s*([^\n]+)`)
	pinRe           = regexp.MustCompile(`📍\s*([^\n]+)`)
	travelRe        = regexp.MustCompile(`(?i)(\d+(?:\s*-\s*\d+)?\s*(?:minutes?|mins?|hours?|hrs?))\s+(?:drive|walk|ride|by car|by taxi|by bus|by boat|away|from)`)
	timeLabelRe     = regexp.MustCompile(`(?i)(?:time|when)\s*:\s*(\d{1,2}(?::\d{2})?\s*(?:[ap]\.?m\.?)?)`)
	leadTimeRe      = regexp.MustCompile(`(?i)^\s*(\d{1,2}(?::\d{2})?\s*[ap]\.?m\.?|\d{1,2}:\d{2})\b\s*[-–—:]?\s*`)
	linkRe          = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	vendorIDRe      = regexp.MustCompile(`/(\d+)(?:[/?#]|$)`)
	bulletRe        = regexp.MustCompile(`^[ \t]*(?:[-*+•]|\d+[.)])[ \t]+(.+)$`)
)

// section headers that look like activities but are not
var titleDenylist = []string{
	"pro tip", "pro tips", "tips", "travel tips", "what's included", "whats included", "what to bring",
	"included", "note", "notes", "important", "important notes", "getting there", "getting around",
	"best time to visit", "summary", "overview", "where to stay", "accommodation", "budget",
	"itinerary", "morning", "afternoon", "evening", "day trip ideas", "final thoughts",
}

// bold labels that belong to the surrounding block instead of starting a new one
var fieldLabels = []string{
	"duration", "location", "address", "where", "meeting point", "what's included", "whats included",
	"what is included", "what to bring", "time", "when", "price", "cost", "travel time",
}

var categoryFamilies = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryFood, []string{
		"restaurant", "food", "taco", "tacos", "dinner", "lunch", "breakfast", "brunch", "cafe", "café",
		"coffee", "eat", "eating", "cuisine", "dining", "dine", "seafood", "bar", "cocktail", "cocktails",
		"mezcal", "tasting", "bakery", "cooking class", "street food", "market",
	}},
	{models.CategoryActivity, []string{
		"snorkel", "snorkeling", "dive", "diving", "cenote", "cenotes", "kayak", "kayaking", "boat", "swim",
		"swimming", "beach", "surf", "surfing", "sail", "sailing", "paddle", "zipline", "hike", "hiking",
		"trek", "climb", "atv", "adventure", "ruins", "tour",
	}},
}

type block struct {
	title string
	body  string
	day   int
}

// Activities scans assistant messages for bold-heading blocks and returns one
// candidate per accepted block, in document order. Duplicates are kept.
func Activities(transcript []models.Message) []models.ParsedActivity {
	var out []models.ParsedActivity
	for _, m := range transcript {
		if m.Role != models.RoleAssistant {
			continue
		}
		for _, b := range splitBlocks(m.Content) {
			if act, ok := parseBlock(b); ok {
				out = append(out, act)
			}
		}
	}
	return out
}

func splitBlocks(text string) []block {
	var blocks []block
	currentDay := 0

	matches := headingRe.FindAllStringSubmatchIndex(text, -1)
	boundaries := lo.Filter(matches, func(loc []int, _ int) bool {
		return !isFieldLabel(cleanTitle(text[loc[2]:loc[3]]))
	})

	for i, loc := range boundaries {
		end := len(text)
		if i+1 < len(boundaries) {
			end = boundaries[i+1][0]
		}
		title := text[loc[2]:loc[3]]
		body := text[loc[4]:end]

		if m := dayRe.FindStringSubmatch(cleanTitle(title)); m != nil {
			currentDay = atoi(m[1])
			continue
		}
		blocks = append(blocks, block{title: title, body: body, day: currentDay})

		// a plain "Day N" line inside the body applies to the blocks after it
		if days := dayLineRe.FindAllStringSubmatch(body, -1); len(days) > 0 {
			currentDay = atoi(days[len(days)-1][1])
		}
	}
	return blocks
}

func parseBlock(b block) (models.ParsedActivity, bool) {
	rawTitle := cleanTitle(b.title)
	act := models.ParsedActivity{Day: b.day}

	if loc := leadTimeRe.FindStringSubmatchIndex(rawTitle); loc != nil {
		act.Time = normalizeTime(rawTitle[loc[2]:loc[3]])
		rawTitle = strings.TrimSpace(rawTitle[loc[1]:])
	}
	if m := parenDurRe.FindStringSubmatch(rawTitle); m != nil {
		act.Duration = m[1]
		rawTitle = strings.TrimSpace(parenDurRe.ReplaceAllString(rawTitle, ""))
	}

	title := strings.Trim(rawTitle, " :-–—,.")
	if n := len([]rune(title)); n < minTitleLen || n > maxTitleLen {
		return act, false
	}
	if isDenied(title) {
		return act, false
	}
	act.Title = title

	body := strings.ReplaceAll(b.body, "**", "")

	if act.Duration == "" {
		if m := durationLabelRe.FindStringSubmatch(body); m != nil {
			act.Duration = cleanValue(m[1])
		} else if m := parenDurRe.FindStringSubmatch(body); m != nil {
			act.Duration = m[1]
		}
	}
	act.Includes = listAfter(includesRe, body)
	act.WhatToBring = listAfter(bringRe, body)
	if m := locationRe.FindStringSubmatch(body); m != nil {
		act.Location = cleanValue(m[1])
	} else if m := pinRe.FindStringSubmatch(body); m != nil {
		act.Location = cleanValue(m[1])
	}
	if m := travelRe.FindStringSubmatch(body); m != nil {
		act.TravelTime = strings.TrimSpace(m[1])
	}
	if act.Time == "" {
		if m := timeLabelRe.FindStringSubmatch(body); m != nil {
			act.Time = normalizeTime(m[1])
		} else if m := leadTimeRe.FindStringSubmatch(body); m != nil {
			act.Time = normalizeTime(m[1])
		}
	}
	act.BookingLink, act.VendorID = bookingLink(body)
	act.Description = describe(body)
	act.Category = categorize(act.Title, act.Description)
	return act, true
}

func cleanTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return r
		case strings.ContainsRune("'’&-–—,.():/!?", r):
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func isFieldLabel(title string) bool {
	t := strings.ToLower(strings.Trim(title, " :"))
	t = strings.ReplaceAll(t, "’", "'")
	return lo.Contains(fieldLabels, t)
}

func isDenied(title string) bool {
	t := strings.ToLower(strings.Trim(title, " :!"))
	t = strings.ReplaceAll(t, "’", "'")
	return lo.SomeBy(titleDenylist, func(d string) bool {
		return t == d || strings.HasPrefix(t, d+":")
	})
}

// listAfter returns the comma separated list on the label line, or the bullet
// lines directly below it when the label line is empty.
func listAfter(re *regexp.Regexp, body string) []string {
	loc := re.FindStringSubmatchIndex(body)
	if loc == nil {
		return nil
	}
	inline := strings.TrimSpace(body[loc[2]:loc[3]])
	if inline != "" {
		return splitList(inline)
	}
	var items []string
	for _, line := range strings.Split(body[loc[1]:], "\n") {
		if strings.TrimSpace(line) == "" {
			if len(items) > 0 {
				break
			}
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil || labelLineRe.MatchString(line) {
			break
		}
		items = append(items, cleanValue(m[1]))
	}
	return lo.Compact(items)
}

func splitList(s string) []string {
	s = strings.ReplaceAll(s, " and ", ", ")
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '•' })
	return lo.Compact(lo.Map(parts, func(p string, _ int) string { return cleanValue(p) }))
}

func cleanValue(s string) string {
	return strings.Trim(cleanLine(s), " .")
}

// cleanLine drops markdown emphasis and keeps link text.
func cleanLine(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	s = strings.NewReplacer("**", "", "__", "", "*", "").Replace(s)
	return strings.TrimSpace(s)
}

func bookingLink(body string) (string, string) {
	for _, m := range linkRe.FindAllStringSubmatch(body, -1) {
		text, target := strings.ToLower(m[1]), strings.ToLower(m[2])
		if !strings.Contains(text, "book") && !strings.Contains(target, "book") &&
			!strings.Contains(text, "reserve") {
			continue
		}
		vendorID := ""
		if v := vendorIDRe.FindStringSubmatch(m[2]); v != nil {
			vendorID = v[1]
		}
		return m[2], vendorID
	}
	return "", ""
}

func describe(body string) string {
	var parts []string
	skipBullets := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			skipBullets = false
			continue
		case labelLineRe.MatchString(trimmed):
			skipBullets = true
			continue
		case dayLineRe.MatchString(trimmed):
			continue
		case skipBullets && bulletRe.MatchString(line):
			continue
		}
		skipBullets = false
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			trimmed = m[1]
		}
		if v := cleanLine(trimmed); v != "" {
			parts = append(parts, v)
		}
	}
	desc := strings.Join(parts, " ")
	if r := []rune(desc); len(r) > maxDescription {
		desc = strings.TrimSpace(string(r[:maxDescription])) + "…"
	}
	return desc
}

func categorize(title, description string) models.Category {
	for _, text := range []string{title, description} {
		words := tokenize(text)
		for _, fam := range categoryFamilies {
			for _, w := range fam.words {
				if strings.Contains(w, " ") {
					if strings.Contains(strings.ToLower(text), w) {
						return fam.category
					}
					continue
				}
				if words[w] {
					return fam.category
				}
			}
		}
	}
	return models.CategoryActivity
}

func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	return lo.SliceToMap(words, func(w string) (string, bool) { return w, true })
}

// normalizeTime turns "9am", "9:30 PM" or "14:00" into 24h HH:MM; "" when invalid.
func normalizeTime(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ".", ""))
	pm := strings.HasSuffix(s, "pm")
	am := strings.HasSuffix(s, "am")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am"))

	hour, minute := 0, 0
	if h, m, ok := strings.Cut(s, ":"); ok {
		hour, minute = atoi(h), atoi(m)
	} else {
		hour = atoi(s)
	}
	switch {
	case pm && hour < 12:
		hour += 12
	case am && hour == 12:
		hour = 0
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || (!am && !pm && !strings.Contains(s, ":")) {
		return ""
	}
	return twoDigits(hour) + ":" + twoDigits(minute)
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}
