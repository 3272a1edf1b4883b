package assetname

import (
	"errors"
	"strings"
	"testing"

	"github.com/trivianft/core/internal/app/domain/nft"
)

func TestBuildAndParseRoundTrip(t *testing.T) {
	cases := []struct {
		tier     nft.Tier
		category string
		season   string
		want     string
	}{
		{nft.TierCategory, "SCI", "", "TNFT_V1_SCI_REG_12b3de7d"},
		{nft.TierCategoryUltimate, "SCI", "", "TNFT_V1_SCI_ULT_12b3de7d"},
		{nft.TierMasterUltimate, "", "", "TNFT_V1_MAST_12b3de7d"},
		{nft.TierSeasonalUltimate, "", "WI1", "TNFT_V1_SEAS_WI1_ULT_12b3de7d"},
	}

	for _, tc := range cases {
		name, err := Build(tc.tier, tc.category, tc.season, "12b3de7d")
		if err != nil {
			t.Fatalf("build %s: %v", tc.tier, err)
		}
		if name != tc.want {
			t.Fatalf("build %s: got %q want %q", tc.tier, name, tc.want)
		}
		c := Parse(name)
		if c == nil {
			t.Fatalf("parse %q returned nil", name)
		}
		if c.Legacy {
			t.Fatalf("parse %q flagged legacy", name)
		}
		if c.CategoryCode != tc.category || c.SeasonCode != tc.season || c.ID != "12b3de7d" {
			t.Fatalf("parse %q: %+v", name, c)
		}
		if c.NFTTier() != tc.tier {
			t.Fatalf("parse %q tier: got %s want %s", name, c.NFTTier(), tc.tier)
		}
		if !Validate(name) {
			t.Fatalf("validate rejected %q", name)
		}
	}
}

func TestParseCanonicalComponents(t *testing.T) {
	c := Parse("TNFT_V1_SCI_REG_12b3de7d")
	if c == nil {
		t.Fatal("parse returned nil")
	}
	if c.Prefix != "TNFT" || c.Version != "V1" || c.Tier != TokenRegular || c.CategoryCode != "SCI" || c.ID != "12b3de7d" {
		t.Fatalf("unexpected components: %+v", c)
	}
}

func TestParseLegacyFallback(t *testing.T) {
	c := Parse("quantum-explorer")
	if c == nil {
		t.Fatal("legacy parse returned nil")
	}
	if !c.Legacy || c.Tier != TokenRegular || c.ID != "quantum-explorer" || c.CategoryCode != "" || c.SeasonCode != "" {
		t.Fatalf("unexpected legacy components: %+v", c)
	}

	for _, bad := range []string{"abc", "UPPER-case", "has space", strings.Repeat("x", 65), ""} {
		if Parse(bad) != nil {
			t.Fatalf("parse accepted %q", bad)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name     string
		tier     nft.Tier
		category string
		season   string
		id       string
		want     error
	}{
		{"missing category", nft.TierCategory, "", "", "12b3de7d", ErrMissingRequiredField},
		{"unknown category", nft.TierCategory, "BOGUS", "", "12b3de7d", ErrInvalidCategoryCode},
		{"missing season", nft.TierSeasonalUltimate, "", "", "12b3de7d", ErrMissingRequiredField},
		{"unknown season", nft.TierSeasonalUltimate, "", "XX9", "12b3de7d", ErrInvalidSeasonCode},
		{"short id", nft.TierCategory, "SCI", "", "12b3", ErrInvalidHexID},
		{"uppercase id", nft.TierCategory, "SCI", "", "12B3DE7D", ErrInvalidHexID},
		{"non-hex id", nft.TierCategory, "SCI", "", "zzzzzzzz", ErrInvalidHexID},
	}
	for _, tc := range cases {
		if _, err := Build(tc.tier, tc.category, tc.season, tc.id); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestCategoryBijection(t *testing.T) {
	for _, slug := range []string{"arts", "entertainment", "geography", "history", "mythology", "nature", "science", "sports", "technology", "weird"} {
		code, ok := CategoryCode(slug)
		if !ok {
			t.Fatalf("no code for slug %q", slug)
		}
		back, ok := CategorySlug(code)
		if !ok || back != slug {
			t.Fatalf("bijection broken: %q -> %q -> %q", slug, code, back)
		}
	}
	if _, ok := CategoryCode("philately"); ok {
		t.Fatal("unknown slug resolved")
	}
}

func TestSeasonCodes(t *testing.T) {
	code, err := SeasonCodeFromID("winter-s1")
	if err != nil || code != "WI1" {
		t.Fatalf("winter-s1: got %q, %v", code, err)
	}
	code, err = SeasonCodeFromID("fall-s2")
	if err != nil || code != "FA2" {
		t.Fatalf("fall-s2: got %q, %v", code, err)
	}
	if _, err := SeasonCodeFromID("notaseason"); err == nil {
		t.Fatal("expected error for malformed season id")
	}

	parts, err := ParseSeasonCode("SU3")
	if err != nil || parts.Cycle != "summer" || parts.Number != 3 {
		t.Fatalf("SU3: got %+v, %v", parts, err)
	}
	if _, err := ParseSeasonCode("WI0"); err == nil {
		t.Fatal("expected error for zero season number")
	}
}

func TestGenerateHexID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		id, err := GenerateHexID()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(id) != 8 || strings.ToLower(id) != id {
			t.Fatalf("bad id %q", id)
		}
		if _, err := Build(nft.TierCategory, "SCI", "", id); err != nil {
			t.Fatalf("generated id rejected by build: %v", err)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Fatal("generator produced no variation")
	}
}
