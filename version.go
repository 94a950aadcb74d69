package mapmaster

// Version is the module release reported by the CLI.
const Version = "0.3.0"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B:
		return true
	default:
		return false
	}
}

// Release returns the numeric release for the version, or "" if unknown.
func (v FHIRVersion) Release() string {
	switch v {
	case R4:
		return "4.0.1"
	case R4B:
		return "4.3.0"
	default:
		return ""
	}
}
