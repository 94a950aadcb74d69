// Package feedback records reviewer decisions in an append-only log and
// learns bounded rule factors and provider trust scores from it.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	mm "github.com/aks129/FhirMapMaster"
)

// Decision is a reviewer's verdict on a suggestion.
type Decision string

const (
	Accept    Decision = "accept"
	Reject    Decision = "reject"
	Modify    Decision = "modify"
	RejectAll Decision = "reject_all"
)

// RejectedAll is the target path recorded when every suggestion was rejected.
const RejectedAll = "rejected-all"

// ErrDuplicate is returned by Store.Append when a record with the same ID
// is already in the log. It does not wrap mapmaster.ErrStorage and is not
// retried.
var ErrDuplicate = errors.New("feedback record already stored")

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/aks129/FhirMapMaster/feedback"))

// IsValid reports whether d is a known decision.
func (d Decision) IsValid() bool {
	switch d {
	case Accept, Reject, Modify, RejectAll:
		return true
	default:
		return false
	}
}

// Positive reports whether d raises the origin's weight.
func (d Decision) Positive() bool { return d == Accept }

// Record is one immutable entry of the feedback log.
type Record struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Resource    string    `json:"resource"`
	Field       string    `json:"field"`
	TargetPath  string    `json:"targetPath"`
	ChosenPath  string    `json:"chosenPath,omitempty"`
	Origin      mm.Origin `json:"origin"`
	Decision    Decision  `json:"decision"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// AcceptedPath returns the path the reviewer settled on, if any.
func (r Record) AcceptedPath() string {
	switch r.Decision {
	case Accept:
		return r.TargetPath
	case Modify:
		return r.ChosenPath
	default:
		return ""
	}
}

// Validate checks that the record can be stored and learned from.
func (r Record) Validate() error {
	if !r.Decision.IsValid() {
		return fmt.Errorf("unknown decision %q", r.Decision)
	}
	if r.Fingerprint == "" {
		return errors.New("record has no fingerprint")
	}
	if r.Origin.Kind == "" || r.Origin.Source == "" {
		return errors.New("record has no origin")
	}
	if r.TargetPath == "" {
		return errors.New("record has no target path")
	}
	if r.Decision == RejectAll && r.TargetPath != RejectedAll {
		return fmt.Errorf("reject_all must target %q", RejectedAll)
	}
	if r.Decision == Modify && r.ChosenPath == "" {
		return errors.New("modify requires a chosen path")
	}
	return nil
}

// DeriveID returns a name-based UUID for the decision rec describes: the
// same field, decision, paths, reason and origin always give the same ID,
// so storing a decision twice is detected by the store.
func DeriveID(rec Record) string {
	name := strings.Join([]string{
		rec.Fingerprint, rec.Resource, rec.Field, string(rec.Decision),
		rec.TargetPath, rec.ChosenPath, rec.Reason,
		string(rec.Origin.Kind), rec.Origin.Source,
	}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}
