package ingestion

import (
	"regexp"
	"strings"
	"time"
)

// Layouts carrying a full date.
var datedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"Mon, 2 Jan 2006 3:04 PM",
	"Mon, 2 Jan 2006 3:04pm",
	"Mon, 2 Jan 2006",
	"Mon 2 Jan 2006",
	"Monday, 2 January 2006",
	"2 January 2006 3:04pm",
	"2 January 2006",
	"2 Jan 2006 3:04pm",
	"2 Jan 2006",
	"Mon, Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

// Layouts listing sites use for upcoming events without a year.
var yearlessLayouts = []string{
	"Mon, Jan 2, 3:04 PM",
	"Mon, Jan 2 3:04 PM",
	"Mon, 2 Jan, 3:04pm",
	"Mon, 2 Jan 3:04pm",
	"Mon 2 Jan, 3:04pm",
	"Mon, 2 Jan",
	"Mon 2 Jan",
	"2 Jan",
	"2 January",
	"Jan 2",
	"January 2",
}

var (
	dateSpaceRE  = regexp.MustCompile(`\s+`)
	dateRangeRE  = regexp.MustCompile(`\s+[-\x{2013}\x{2014}]\s+|\s+to\s+`)
	dateSuffixRE = regexp.MustCompile(`\s*\+\s*\d+\s+more.*$|\s+(AEST|AEDT|GMT[+-]?\d*)$`)
	ordinalRE    = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
)

// cleanDateText strips range ends, timezone abbreviations, ordinals and
// "+ 3 more" trailers that listing cards commonly append.
func cleanDateText(raw string) string {
	s := dateSpaceRE.ReplaceAllString(strings.TrimSpace(raw), " ")
	if loc := dateRangeRE.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = dateSuffixRE.ReplaceAllString(s, "")
	s = ordinalRE.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// ParseEventDate parses scraped date text in loc. Yearless dates resolve to
// the next occurrence on or after roughly two months before now. The second
// result is false when no layout matched.
func ParseEventDate(raw string, loc *time.Location, now time.Time) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s := cleanDateText(raw)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}

	for _, layout := range datedLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}

	localNow := now.In(loc)
	for _, layout := range yearlessLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		t = time.Date(localNow.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if t.Before(localNow.AddDate(0, -2, 0)) {
			t = t.AddDate(1, 0, 0)
		}
		return t, true
	}

	return time.Time{}, false
}
