package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level is the reservation or publication level requested for a
// catalogue.  LevelNone is used by kinds that carry no level, such as
// releasing a reservation or uploading data.
type Level string

const (
	LevelNone  Level = "NONE"
	LevelMinor Level = "MINOR"
	LevelMajor Level = "MAJOR"
)

// ParseLevel converts a user supplied string into a Level.  Matching is
// case-insensitive and an empty string maps to LevelNone.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(LevelNone):
		return LevelNone, nil
	case string(LevelMinor):
		return LevelMinor, nil
	case string(LevelMajor):
		return LevelMajor, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// Version is a catalogue version in major.minor.internal form.  Versions
// are totally ordered: major first, then minor, then the internal counter.
type Version struct {
	Major    int
	Minor    int
	Internal int
}

// ParseVersion parses "M.m.i".  Missing trailing components default to zero
// so "2" and "2.0" are both accepted as 2.0.0.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Internal: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Internal)
}

// Compare returns -1, 0 or 1 when v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Internal, o.Internal)
	}
}

// Newer reports whether v is strictly newer than o.
func (v Version) Newer(o Version) bool { return v.Compare(o) > 0 }

// Bump returns the next published version for the given level.  A minor
// publication clears the internal counter; a major one clears both the
// minor and the internal counters.
func (v Version) Bump(level Level) Version {
	switch level {
	case LevelMajor:
		return Version{Major: v.Major + 1}
	case LevelMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	}
	return Version{Major: v.Major, Minor: v.Minor, Internal: v.Internal + 1}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CatalogueRef identifies one version of a catalogue.  It is the key under
// which at most one pending action may exist.
type CatalogueRef struct {
	Code    string
	Version Version
}

func (r CatalogueRef) String() string { return r.Code + "@" + r.Version.String() }

// Catalogue is the local record of a catalogue version.
//
// Fields:
//
//	ID                  – primary key identifier.
//	Code, Version       – the catalogue identity.
//	Busy                – set while a pending action drives this version;
//	                      clients disable reserve/publish actions.
//	NeedsReconciliation – local edits may have been made under a forced
//	                      grant that the authority later refused.
//	ReservedLevel       – level of the confirmed reservation, if any.
//	ReservedBy          – requester holding the reservation.
//	ReserveNote         – justification supplied with the reservation.
//	Published           – version has been published by the authority.
type Catalogue struct {
	ID                  uint64    // catalogues.id
	Code                string    // catalogues.code
	Version             Version   // catalogues.version_major/minor/internal
	Busy                bool      // catalogues.busy
	NeedsReconciliation bool      // catalogues.needs_reconciliation
	ReservedLevel       *Level    // catalogues.reserved_level (nullable)
	ReservedBy          *string   // catalogues.reserved_by (nullable)
	ReserveNote         *string   // catalogues.reserve_note (nullable)
	Published           bool      // catalogues.published
	CreatedAt           time.Time // catalogues.created_at
	UpdatedAt           time.Time // catalogues.updated_at
}

// Ref returns the catalogue's identity.
func (c Catalogue) Ref() CatalogueRef { return CatalogueRef{Code: c.Code, Version: c.Version} }

// StagedVersion is a newer catalogue version already downloaded from the
// authority and waiting to be imported locally.
type StagedVersion struct {
	Code      string
	VersionID string
	Version   Version
	Payload   []byte
}

// Ref returns the identity the staged version will have once imported.
func (s StagedVersion) Ref() CatalogueRef { return CatalogueRef{Code: s.Code, Version: s.Version} }
