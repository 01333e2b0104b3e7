package cluster

import (
	"testing"
)

func TestNormalizeSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already canonical", raw: "DOE-PARDON-ORDER", want: "DOE-PARDON-ORDER"},
		{name: "lowercase input", raw: "doe-pardon-order", want: "DOE-PARDON-ORDER"},
		{name: "spaces and punctuation collapse", raw: "Doe  pardons!! order", want: "DOE-PARDON-ORDER"},
		{name: "synonym mapped", raw: "ACME-LAYOFFS", want: "ACME-LAYOFF"},
		{name: "inflection mapped", raw: "SMITH-INDICTED", want: "SMITH-INDICT"},
		{name: "acronym kept verbatim", raw: "US-TARIFFS-EU", want: "US-TARIFF-EU"},
		{name: "leading and trailing junk", raw: "--FED-RATE-CUT--", want: "FED-RATE-CUT"},
		{name: "empty", raw: "", wantErr: true},
		{name: "only punctuation", raw: "!!!", wantErr: true},
		{name: "too short", raw: "a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeSlug(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSlug(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSlug(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeSlug(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSlugOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		slugA     string
		slugB     string
		wantOK    bool
		wantScore float64
	}{
		{
			name:      "event plus anchor shared",
			slugA:     "DOE-PARDON-ORDER",
			slugB:     "DOE-PARDON",
			wantOK:    true,
			wantScore: 2.0 / 3.0,
		},
		{
			name:   "only generic verb shared",
			slugA:  "DOE-PARDON-ORDER",
			slugB:  "SMITH-TARIFF-ORDER",
			wantOK: false,
		},
		{
			name:   "event shared without anchor",
			slugA:  "DOE-PARDON",
			slugB:  "SMITH-PARDON",
			wantOK: false,
		},
		{
			name:   "anchor shared without event",
			slugA:  "DOE-PARDON",
			slugB:  "DOE-TARIFF",
			wantOK: false,
		},
		{
			name:      "identical slug",
			slugA:     "ACME-MERGER-RULING",
			slugB:     "ACME-MERGER-RULING",
			wantOK:    true,
			wantScore: 1.0,
		},
		{
			name:   "no shared tokens",
			slugA:  "DOE-PARDON",
			slugB:  "ACME-MERGER",
			wantOK: false,
		},
		{
			name:   "empty side",
			slugA:  "",
			slugB:  "DOE-PARDON",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			score, ok := SlugOverlap(tt.slugA, tt.slugB)
			if ok != tt.wantOK {
				t.Fatalf("SlugOverlap(%q, %q) ok = %v, want %v", tt.slugA, tt.slugB, ok, tt.wantOK)
			}
			if !tt.wantOK {
				if score != 0 {
					t.Fatalf("SlugOverlap(%q, %q) score = %v, want 0 when unusable", tt.slugA, tt.slugB, score)
				}
				return
			}
			if diff := score - tt.wantScore; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("SlugOverlap(%q, %q) score = %v, want %v", tt.slugA, tt.slugB, score, tt.wantScore)
			}
		})
	}
}
