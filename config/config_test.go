package config

import (
	"testing"
	"time"
)

func TestQuotaLimitsTable(t *testing.T) {
	tests := []struct {
		category string
		limit    int
		window   time.Duration
	}{
		{QuotaGeneral, 50, 15 * time.Minute},
		{QuotaUpload, 10, time.Hour},
		{QuotaPasteCreate, 20, time.Hour},
		{QuotaURLCreate, 30, time.Hour},
		{QuotaContact, 50, 15 * time.Minute},
	}
	for _, tt := range tests {
		got, ok := QuotaLimits[tt.category]
		if !ok {
			t.Fatalf("missing quota category %q", tt.category)
		}
		if got.Limit != tt.limit || got.Window != tt.window {
			t.Errorf("%s: got %d/%v, want %d/%v", tt.category, got.Limit, got.Window, tt.limit, tt.window)
		}
	}
}

func TestRetentionBounds(t *testing.T) {
	if MaxRetention != 90*24*time.Hour {
		t.Errorf("MaxRetention = %v, want 90 days", MaxRetention)
	}
	for _, ttl := range []time.Duration{DefaultPasteTTL, DefaultFileTTL, DefaultQRTTL, DefaultLinkTTL} {
		if ttl <= 0 || ttl > MaxRetention {
			t.Errorf("default TTL %v outside (0, MaxRetention]", ttl)
		}
	}
}

func TestSlugConstants(t *testing.T) {
	if DefaultSlugLength < 3 {
		t.Errorf("DefaultSlugLength = %d, too short", DefaultSlugLength)
	}
	if LongSlugLength <= DefaultSlugLength {
		t.Errorf("LongSlugLength = %d should exceed the default %d", LongSlugLength, DefaultSlugLength)
	}
	seen := map[rune]bool{}
	for _, r := range SlugAlphabet {
		if seen[r] {
			t.Errorf("duplicate rune %q in slug alphabet", r)
		}
		seen[r] = true
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			t.Errorf("unexpected rune %q in slug alphabet", r)
		}
	}
}
