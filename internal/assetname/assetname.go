// Package assetname builds, parses and validates the fixed-grammar on-chain
// asset identifiers:
//
//	TNFT_V1_<CAT>_REG_<hex8>        tier-1 regular
//	TNFT_V1_<CAT>_ULT_<hex8>        tier-2 category ultimate
//	TNFT_V1_MAST_<hex8>             tier-3 master ultimate
//	TNFT_V1_SEAS_<SEASON>_ULT_<hex8> tier-4 seasonal ultimate
//
// Names are at most 32 bytes of uppercase ASCII letters, digits and
// underscores (the trailing id is lowercase hex). Parsing additionally
// accepts legacy kebab-case names minted before the grammar existed.
package assetname

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/trivianft/core/internal/app/domain/nft"
)

const (
	prefix  = "TNFT"
	version = "V1"

	// MaxLength is the on-chain asset name size limit in bytes.
	MaxLength = 32
)

// Grammar tier tokens.
const (
	TokenRegular  = "REG"
	TokenUltimate = "ULT"
	TokenMaster   = "MAST"
	TokenSeasonal = "SEAS"
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidCategoryCode  = errors.New("invalid category code")
	ErrInvalidSeasonCode    = errors.New("invalid season code")
	ErrInvalidHexID         = errors.New("invalid hex id")
	ErrInvalidLength        = errors.New("name exceeds 32 bytes")
)

var (
	hexIDPattern  = regexp.MustCompile(`^[0-9a-f]{8}$`)
	legacyPattern = regexp.MustCompile(`^[a-z0-9-]{5,64}$`)
	seasonPattern = regexp.MustCompile(`^(WI|SP|SU|FA)([1-9][0-9]*)$`)
)

// categoryBySlug is the static bijection between catalog slugs and the
// uppercase codes used on chain.
var categoryBySlug = map[string]string{
	"arts":          "ARTS",
	"entertainment": "ENT",
	"geography":     "GEO",
	"history":       "HIST",
	"mythology":     "MYTH",
	"nature":        "NAT",
	"science":       "SCI",
	"sports":        "SPORT",
	"technology":    "TECH",
	"weird":         "WEIRD",
}

var slugByCategory = func() map[string]string {
	m := make(map[string]string, len(categoryBySlug))
	for slug, code := range categoryBySlug {
		m[code] = slug
	}
	return m
}()

// CategoryCode resolves a catalog slug to its on-chain code.
func CategoryCode(slug string) (string, bool) {
	code, ok := categoryBySlug[strings.ToLower(strings.TrimSpace(slug))]
	return code, ok
}

// CategorySlug resolves an on-chain code back to its catalog slug.
func CategorySlug(code string) (string, bool) {
	slug, ok := slugByCategory[code]
	return slug, ok
}

// ValidCategoryCode reports whether code is a known on-chain category token.
func ValidCategoryCode(code string) bool {
	_, ok := slugByCategory[code]
	return ok
}

// SeasonCode encodes a season cycle and number, e.g. ("winter", 1) -> WI1.
func SeasonCode(cycle string, number int) (string, error) {
	if number < 1 {
		return "", ErrInvalidSeasonCode
	}
	var tok string
	switch strings.ToLower(cycle) {
	case "winter":
		tok = "WI"
	case "spring":
		tok = "SP"
	case "summer":
		tok = "SU"
	case "fall":
		tok = "FA"
	default:
		return "", ErrInvalidSeasonCode
	}
	return tok + strconv.Itoa(number), nil
}

// SeasonCodeFromID derives a season code from a season id slug such as
// "winter-s1".
func SeasonCodeFromID(seasonID string) (string, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(seasonID)), "-s", 2)
	if len(parts) != 2 {
		return "", ErrInvalidSeasonCode
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", ErrInvalidSeasonCode
	}
	return SeasonCode(parts[0], n)
}

// SeasonParts is a decoded season code.
type SeasonParts struct {
	Cycle  string // winter, spring, summer, fall
	Number int
}

// ParseSeasonCode decodes a season code such as WI1.
func ParseSeasonCode(code string) (SeasonParts, error) {
	m := seasonPattern.FindStringSubmatch(code)
	if m == nil {
		return SeasonParts{}, ErrInvalidSeasonCode
	}
	n, _ := strconv.Atoi(m[2])
	var cycle string
	switch m[1] {
	case "WI":
		cycle = "winter"
	case "SP":
		cycle = "spring"
	case "SU":
		cycle = "summer"
	case "FA":
		cycle = "fall"
	}
	return SeasonParts{Cycle: cycle, Number: n}, nil
}

// Components are the decoded parts of an asset name. Legacy names carry only
// the raw id.
type Components struct {
	Prefix       string
	Version      string
	Tier         string // REG, ULT, MAST or SEAS
	CategoryCode string
	SeasonCode   string
	ID           string
	Legacy       bool
}

// NFTTier maps the grammar tier token to the domain tier.
func (c Components) NFTTier() nft.Tier {
	switch c.Tier {
	case TokenUltimate:
		return nft.TierCategoryUltimate
	case TokenMaster:
		return nft.TierMasterUltimate
	case TokenSeasonal:
		return nft.TierSeasonalUltimate
	default:
		return nft.TierCategory
	}
}

// Build produces a canonical asset name for the given tier.
func Build(tier nft.Tier, categoryCode, seasonCode, id string) (string, error) {
	if !hexIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHexID, id)
	}

	var body string
	switch tier {
	case nft.TierCategory, nft.TierCategoryUltimate:
		if categoryCode == "" {
			return "", fmt.Errorf("%w: category code", ErrMissingRequiredField)
		}
		if !ValidCategoryCode(categoryCode) {
			return "", fmt.Errorf("%w: %q", ErrInvalidCategoryCode, categoryCode)
		}
		suffix := TokenRegular
		if tier == nft.TierCategoryUltimate {
			suffix = TokenUltimate
		}
		body = categoryCode + "_" + suffix
	case nft.TierMasterUltimate:
		body = TokenMaster
	case nft.TierSeasonalUltimate:
		if seasonCode == "" {
			return "", fmt.Errorf("%w: season code", ErrMissingRequiredField)
		}
		if !seasonPattern.MatchString(seasonCode) {
			return "", fmt.Errorf("%w: %q", ErrInvalidSeasonCode, seasonCode)
		}
		body = TokenSeasonal + "_" + seasonCode + "_" + TokenUltimate
	default:
		return "", fmt.Errorf("%w: tier", ErrMissingRequiredField)
	}

	name := prefix + "_" + version + "_" + body + "_" + id
	if len(name) > MaxLength {
		return "", fmt.Errorf("%w: %q is %d bytes", ErrInvalidLength, name, len(name))
	}
	return name, nil
}

// Parse decodes name into its components. Canonical grammar is tried first;
// on failure a permissive legacy recognizer accepts pre-grammar kebab-case
// names and returns them as regular-tier components with the raw id.
// Returns nil when the name matches neither form.
func Parse(name string) *Components {
	if c := parseCanonical(name); c != nil {
		return c
	}
	if legacyPattern.MatchString(name) {
		return &Components{
			Prefix:  prefix,
			Version: version,
			Tier:    TokenRegular,
			ID:      name,
			Legacy:  true,
		}
	}
	return nil
}

func parseCanonical(name string) *Components {
	if len(name) > MaxLength {
		return nil
	}
	parts := strings.Split(name, "_")
	if len(parts) < 4 || parts[0] != prefix || parts[1] != version {
		return nil
	}
	id := parts[len(parts)-1]
	if !hexIDPattern.MatchString(id) {
		return nil
	}
	body := parts[2 : len(parts)-1]

	c := &Components{Prefix: prefix, Version: version, ID: id}
	switch {
	case len(body) == 1 && body[0] == TokenMaster:
		c.Tier = TokenMaster
	case len(body) == 2 && (body[1] == TokenRegular || body[1] == TokenUltimate):
		if !ValidCategoryCode(body[0]) {
			return nil
		}
		c.Tier = body[1]
		c.CategoryCode = body[0]
	case len(body) == 3 && body[0] == TokenSeasonal && body[2] == TokenUltimate:
		if !seasonPattern.MatchString(body[1]) {
			return nil
		}
		c.Tier = TokenSeasonal
		c.SeasonCode = body[1]
	default:
		return nil
	}
	return c
}

// Validate reports whether name is accepted in either the canonical or the
// legacy form.
func Validate(name string) bool { return Parse(name) != nil }

// GenerateHexID returns an 8-char lowercase hex id from a cryptographically
// strong source.
func GenerateHexID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
