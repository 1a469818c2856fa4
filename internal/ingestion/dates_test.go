package ingestion

import (
	"testing"
	"time"
)

func TestParseEventDate(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, sydney)

	tests := []struct {
		name string
		raw  string
		want time.Time
		ok   bool
	}{
		{"rfc3339 keeps offset", "2026-07-10T19:00:00+10:00", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), true},
		{"iso local", "2026-07-10T19:00", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), true},
		{"date only", "2026-07-10", time.Date(2026, 7, 10, 0, 0, 0, 0, sydney), true},
		{"day month year", "10 July 2026", time.Date(2026, 7, 10, 0, 0, 0, 0, sydney), true},
		{"ordinal", "Fri, 10th Jul 2026", time.Date(2026, 7, 10, 0, 0, 0, 0, sydney), true},
		{"yearless with time", "Fri, Jul 10, 7:00 PM", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), true},
		{"range keeps start", "10 Jul 2026 - 12 Jul 2026", time.Date(2026, 7, 10, 0, 0, 0, 0, sydney), true},
		{"timezone suffix", "Fri, Jul 10, 7:00 PM AEST", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), true},
		{"more dates trailer", "Fri, Jul 10, 7:00 PM + 3 more", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), true},
		{"yearless early in year rolls forward", "Jan 5", time.Date(2027, 1, 5, 0, 0, 0, 0, sydney), true},
		{"empty", "", time.Time{}, false},
		{"free text", "Every weekend", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEventDate(tt.raw, sydney, now)
			if ok != tt.ok {
				t.Fatalf("ParseEventDate(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseEventDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
