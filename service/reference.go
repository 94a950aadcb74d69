package service

import "strings"

// ReferenceKind classifies a reference string.
type ReferenceKind string

const (
	// ReferenceRelative is "Type/id".
	ReferenceRelative ReferenceKind = "relative"
	// ReferenceAbsolute is a URL ending in "Type/id".
	ReferenceAbsolute ReferenceKind = "absolute"
	// ReferenceContained is "#id" into the resource's contained list.
	ReferenceContained ReferenceKind = "contained"
	// ReferenceURN is "urn:uuid:..." or "urn:oid:...".
	ReferenceURN ReferenceKind = "urn"
)

// ParsedReference holds the components of a reference string.
type ParsedReference struct {
	Kind         ReferenceKind
	ResourceType string
	ResourceID   string
	VersionID    string
	Original     string
}

// Key returns "Type/id" for relative and absolute references, the URN for
// URN references and "#id" for contained ones.
func (r ParsedReference) Key() string {
	switch r.Kind {
	case ReferenceContained:
		return "#" + r.ResourceID
	case ReferenceURN:
		return r.Original
	default:
		return r.ResourceType + "/" + r.ResourceID
	}
}

// ParseReference parses a literal reference. ok is false when ref is not a
// recognizable literal reference.
func ParseReference(ref string) (ParsedReference, bool) {
	ref = strings.TrimSpace(ref)
	p := ParsedReference{Original: ref}

	switch {
	case ref == "":
		return p, false
	case strings.HasPrefix(ref, "#"):
		if len(ref) == 1 {
			return p, false
		}
		p.Kind, p.ResourceID = ReferenceContained, ref[1:]
		return p, true
	case strings.HasPrefix(ref, "urn:uuid:"), strings.HasPrefix(ref, "urn:oid:"):
		p.Kind = ReferenceURN
		p.ResourceID = ref[strings.LastIndexByte(ref, ':')+1:]
		return p, p.ResourceID != ""
	}

	p.Kind = ReferenceRelative
	if strings.Contains(ref, "://") {
		p.Kind = ReferenceAbsolute
	}
	segments := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if n := len(segments); n >= 4 && segments[n-2] == "_history" {
		p.VersionID = segments[n-1]
		segments = segments[:n-2]
	}
	n := len(segments)
	if n < 2 {
		return p, false
	}
	p.ResourceType, p.ResourceID = segments[n-2], segments[n-1]
	if !isResourceTypeName(p.ResourceType) || p.ResourceID == "" {
		return p, false
	}
	return p, true
}

// isResourceTypeName reports whether s looks like a resource type: an
// upper-case ASCII letter followed by letters.
func isResourceTypeName(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
