// Package extract derives trip facts and candidate activities from a chat transcript.
// Everything here is best effort: missing signals degrade to defaults, never to errors.
package extract

import (
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tripsync/models"
)

const (
	// FallbackDestination is used when no destination can be found.
	FallbackDestination = "Cancun"
	FallbackDays        = 3
	MinDays             = 1
	MaxDays             = 14
)

// Options tunes extraction. The zero value uses the package defaults.
type Options struct {
	DefaultDestination string
}

var knownCities = []string{
	"Tulum", "Cancun", "Playa del Carmen", "Mexico City", "Oaxaca", "Puerto Vallarta",
	"Cabo San Lucas", "Isla Mujeres", "Cozumel", "Bacalar", "Holbox", "Merida", "San Miguel de Allende",
	"Paris", "London", "Rome", "Florence", "Venice", "Barcelona", "Madrid", "Lisbon", "Porto",
	"Amsterdam", "Prague", "Vienna", "Berlin", "Istanbul", "Athens", "Santorini", "Dubrovnik",
	"Reykjavik", "Marrakech", "Cape Town", "Dubai", "Tokyo", "Kyoto", "Osaka", "Seoul", "Bangkok",
	"Bali", "Singapore", "Hanoi", "Sydney", "Melbourne", "Queenstown", "New York", "Miami",
	"Los Angeles", "San Francisco", "Honolulu", "New Orleans", "Chicago", "Vancouver", "Montreal",
	"Havana", "Cartagena", "Medellin", "Bogota", "Lima", "Cusco", "Buenos Aires", "Rio de Janeiro",
}

var cityRe = func() *regexp.Regexp {
	names := append([]string(nil), knownCities...)
	// longest first so "Cabo San Lucas" wins over any shorter overlap
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`\b(` + strings.Join(names, "|") + `)\b`)
}()

const placeName = `([A-Z][\p{L}'\-]+(?:\s+(?:(?:de|del|la|el|da|do)\s+)?[A-Z][\p{L}'\-]+)*)`

var (
	welcomeRe  = regexp.MustCompile(`(?i:welcome\s+to)\s+` + placeName)
	tripToRe   = regexp.MustCompile(`(?i:trip\s+to)\s+` + placeName)
	offersRe   = regexp.MustCompile(placeName + `\s+(?:offers|has|features)\b`)
	subjectBan = map[string]bool{
		"This": true, "That": true, "It": true, "There": true, "The": true, "Each": true,
		"Every": true, "Day": true, "He": true, "She": true, "They": true, "Which": true,
		"Who": true, "Everything": true, "Everyone": true, "Nobody": true, "Your": true, "Our": true,
	}
)

var (
	numberWords = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
		"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	}
	durationRe = regexp.MustCompile(`(?i)\b(\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen)(?:\s+|-)?(days?|nights?)\b`)

	monthNames = `(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)`
	rangeRe    = regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?\s*(?:-|–|—|to|through|until)\s*(?:` + monthNames + `\.?\s+)?(\d{1,2})(?:st|nd|rd|th)?\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// Extract derives trip facts from the transcript. It never fails; absent signals
// fall back to defaults relative to now.
func Extract(transcript []models.Message, now time.Time) models.TripFacts {
	return Options{}.Extract(transcript, now)
}

func (o Options) Extract(transcript []models.Message, now time.Time) models.TripFacts {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	facts := models.TripFacts{
		Destination: o.destination(transcript),
		StartDate:   today,
		DayCount:    FallbackDays,
	}

	duration, hasDuration := findDuration(transcript)
	start, end, hasRange := findRange(transcript, today)

	switch {
	case hasRange:
		facts.StartDate = start
		facts.EndDate = end
		facts.DayCount = daysBetween(start, end) + 1
		if hasDuration && duration != facts.DayCount {
			log.Printf("[Extract] explicit range %s..%s (%d days) overrides stated duration of %d days",
				start.Format(models.DateLayout), end.Format(models.DateLayout), facts.DayCount, duration)
		}
		if facts.DayCount > MaxDays {
			log.Printf("[Extract] range %s..%s spans %d days; keeping the first %d",
				start.Format(models.DateLayout), end.Format(models.DateLayout), facts.DayCount, MaxDays)
			facts.DayCount = MaxDays
			facts.EndDate = start.AddDate(0, 0, MaxDays-1)
		}
		return facts
	case hasDuration:
		facts.DayCount = duration
	}
	facts.EndDate = today.AddDate(0, 0, facts.DayCount-1)
	return facts
}

func (o Options) destination(transcript []models.Message) string {
	for _, m := range transcript {
		if m.Role != models.RoleAssistant {
			continue
		}
		if d := findDestination(m.Content); d != "" {
			return d
		}
	}
	if o.DefaultDestination != "" {
		return cases.Title(language.English).String(strings.TrimSpace(o.DefaultDestination))
	}
	return FallbackDestination
}

// findDestination returns the earliest candidate in text across all patterns.
func findDestination(text string) string {
	best, bestAt := "", -1
	consider := func(name string, at int) {
		for subjectBan[firstWord(name)] && strings.Contains(name, " ") {
			name = strings.TrimSpace(name[len(firstWord(name)):])
		}
		if name == "" || subjectBan[name] {
			return
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(name) > len(best)) {
			best, bestAt = name, at
		}
	}

	if loc := cityRe.FindStringSubmatchIndex(text); loc != nil {
		consider(text[loc[2]:loc[3]], loc[0])
	}
	for _, re := range []*regexp.Regexp{welcomeRe, tripToRe, offersRe} {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			consider(text[loc[2]:loc[3]], loc[0])
		}
	}
	return best
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

func findDuration(transcript []models.Message) (int, bool) {
	for _, m := range transcript {
		match := durationRe.FindStringSubmatch(m.Content)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			n = numberWords[strings.ToLower(match[1])]
		}
		return clamp(n, MinDays, MaxDays), true
	}
	return 0, false
}

func findRange(transcript []models.Message, today time.Time) (time.Time, time.Time, bool) {
	for _, m := range transcript {
		for _, match := range rangeRe.FindAllStringSubmatch(m.Content, -1) {
			if start, end, ok := resolveRange(match, today); ok {
				return start, end, true
			}
		}
	}
	return time.Time{}, time.Time{}, false
}

func resolveRange(match []string, today time.Time) (time.Time, time.Time, bool) {
	startMonth := monthOf(match[1])
	endMonth := startMonth
	if match[3] != "" {
		endMonth = monthOf(match[3])
	}
	startDay, _ := strconv.Atoi(match[2])
	endDay, _ := strconv.Atoi(match[4])

	year := today.Year()
	if startMonth < today.Month() {
		year++
	}
	endYear := year
	if endMonth < startMonth {
		endYear++
	}

	start, ok := validDate(year, startMonth, startDay, today.Location())
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := validDate(endYear, endMonth, endDay, today.Location())
	if !ok || end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func monthOf(name string) time.Month {
	key := strings.ToLower(name)
	if len(key) > 3 {
		key = key[:3]
	}
	return months[key]
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func clamp(n, low, high int) int {
	if n < low {
		return low
	}
	if n > high {
		return high
	}
	return n
}
