package phases

import (
	"fmt"
	"strconv"
	"strings"
)

// Location prefixes. A section location with an empty heading points at the
// text before the first heading.
const (
	locLine     = "line "
	locMetadata = "metadata:"
	locSection  = "section:"
	// LocationBody addresses the whole body.
	LocationBody = "body"
)

// LineLocation formats a 1-based document line.
func LineLocation(n int) string { return locLine + strconv.Itoa(n) }

// MetadataLocation addresses one frontmatter key.
func MetadataLocation(key string) string { return locMetadata + key }

// SectionLocation addresses the section under heading.
func SectionLocation(heading string) string { return locSection + heading }

// TargetKind is what a location addresses.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetLine
	TargetMetadata
	TargetSection
	TargetBody
)

// Target is a parsed location.
type Target struct {
	Kind TargetKind
	// Name is the metadata key or section heading.
	Name string
	// Line is set for TargetLine.
	Line int
}

// ParseLocation splits a finding location into its parts.
func ParseLocation(loc string) (Target, error) {
	switch {
	case loc == LocationBody:
		return Target{Kind: TargetBody}, nil
	case strings.HasPrefix(loc, locMetadata):
		key := strings.TrimPrefix(loc, locMetadata)
		if key == "" {
			return Target{}, fmt.Errorf("location %q names no metadata key", loc)
		}
		return Target{Kind: TargetMetadata, Name: key}, nil
	case strings.HasPrefix(loc, locSection):
		return Target{Kind: TargetSection, Name: strings.TrimPrefix(loc, locSection)}, nil
	case strings.HasPrefix(loc, locLine):
		n, err := strconv.Atoi(strings.TrimPrefix(loc, locLine))
		if err != nil || n < 1 {
			return Target{}, fmt.Errorf("location %q is not a valid line", loc)
		}
		return Target{Kind: TargetLine, Line: n}, nil
	case loc == "":
		return Target{Kind: TargetNone}, nil
	default:
		return Target{}, fmt.Errorf("unrecognized location %q", loc)
	}
}
