// Package session ties the suggestion engine, the feedback learner and the
// validator into one mapping workflow: suggest, decide, then re-validate
// the assembled resource and feed validation failures back into ranking.
package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/feedback"
	"github.com/aks129/FhirMapMaster/field"
	"github.com/aks129/FhirMapMaster/suggest"
)

// ReasonValidation is the reason recorded when an accepted mapping is
// rejected because the assembled resource failed validation at its path.
const ReasonValidation = "validation"

// Suggester produces suggestion sets.
type Suggester interface {
	Suggest(ctx context.Context, fc field.Context, resource, ig string) *suggest.Set
}

// Recorder stores feedback decisions.
type Recorder interface {
	Record(ctx context.Context, rec feedback.Record) (feedback.Record, error)
}

// Validator validates assembled resources.
type Validator interface {
	Validate(ctx context.Context, resource map[string]any, profileID string) (*mm.Report, error)
}

// Acceptance is a mapping the reviewer settled on. Origins are the
// producers credited with it.
type Acceptance struct {
	Fingerprint string      `json:"fingerprint"`
	Resource    string      `json:"resource"`
	Field       string      `json:"field"`
	TargetPath  string      `json:"targetPath"`
	Origins     []mm.Origin `json:"origins"`
}

// Session runs mapping decisions for one reviewer. It is safe for
// concurrent use when its collaborators are.
type Session struct {
	suggester Suggester
	recorder  Recorder
	validator Validator
	retry     feedback.RetryConfig
	logger    *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithRetry sets the retry policy for feedback storage failures.
func WithRetry(cfg feedback.RetryConfig) Option {
	return func(s *Session) {
		s.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a session. The validator may be nil, in which case
// Revalidate fails with mapmaster.ErrConfiguration.
func New(suggester Suggester, recorder Recorder, validator Validator, opts ...Option) *Session {
	s := &Session{
		suggester: suggester,
		recorder:  recorder,
		validator: validator,
		retry:     feedback.DefaultRetryConfig(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s
}

// Suggest returns the suggestion set for fc against resource.
func (s *Session) Suggest(ctx context.Context, fc field.Context, resource, ig string) *suggest.Set {
	return s.suggester.Suggest(ctx, fc, resource, ig)
}

// Accept records that the reviewer accepted the suggestion for path. Every
// distinct origin that proposed the path is credited.
func (s *Session) Accept(ctx context.Context, set *suggest.Set, path string) (Acceptance, error) {
	sg, err := find(set, path)
	if err != nil {
		return Acceptance{}, err
	}
	for _, origin := range sg.Origins {
		rec := newRecord(set, feedback.Accept, path, origin)
		if err := s.store(ctx, rec); err != nil {
			return Acceptance{}, err
		}
	}
	return acceptance(set, path, sg.Origins), nil
}

// Reject records that the reviewer rejected the suggestion for path.
func (s *Session) Reject(ctx context.Context, set *suggest.Set, path, reason string) error {
	sg, err := find(set, path)
	if err != nil {
		return err
	}
	for _, origin := range sg.Origins {
		rec := newRecord(set, feedback.Reject, path, origin)
		rec.Reason = reason
		if err := s.store(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Modify records that the reviewer replaced the suggestion for
// suggestedPath with chosenPath. The suggestion's origins are penalized and
// the returned acceptance carries no origins, so a later validation failure
// at chosenPath is not charged to them.
func (s *Session) Modify(ctx context.Context, set *suggest.Set, suggestedPath, chosenPath string) (Acceptance, error) {
	chosenPath = strings.TrimSpace(chosenPath)
	if chosenPath == "" {
		return Acceptance{}, fmt.Errorf("%w: modify requires a chosen path", mm.ErrConfiguration)
	}
	sg, err := find(set, suggestedPath)
	if err != nil {
		return Acceptance{}, err
	}
	for _, origin := range sg.Origins {
		rec := newRecord(set, feedback.Modify, suggestedPath, origin)
		rec.ChosenPath = chosenPath
		if err := s.store(ctx, rec); err != nil {
			return Acceptance{}, err
		}
	}
	return acceptance(set, chosenPath, nil), nil
}

// RejectAll records that none of the exposed suggestions fit. Each distinct
// origin among them receives one reject_all record.
func (s *Session) RejectAll(ctx context.Context, set *suggest.Set) error {
	var seen []mm.Origin
	for _, sg := range set.Suggestions {
		for _, origin := range sg.Origins {
			if containsOrigin(seen, origin) {
				continue
			}
			seen = append(seen, origin)
			if err := s.store(ctx, newRecord(set, feedback.RejectAll, feedback.RejectedAll, origin)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Revalidate validates the assembled resource. For every accepted mapping
// whose target path, or a path below it, carries an error, a reject with
// reason "validation" is recorded against the mapping's origins. The report
// is returned even when recording fails.
func (s *Session) Revalidate(ctx context.Context, resource map[string]any, profileID string, accepted []Acceptance) (*mm.Report, error) {
	if s.validator == nil {
		return nil, fmt.Errorf("%w: session has no validator", mm.ErrConfiguration)
	}
	report, err := s.validator.Validate(ctx, resource, profileID)
	if err != nil {
		return nil, err
	}

	for _, acc := range accepted {
		issue, failed := errorAt(report, acc.TargetPath)
		if !failed {
			continue
		}
		s.logger.Info("accepted mapping failed validation",
			zap.String("field", acc.Field),
			zap.String("path", acc.TargetPath),
			zap.String("issue", issue.Message),
		)
		for _, origin := range acc.Origins {
			rec := feedback.Record{
				Fingerprint: acc.Fingerprint,
				Resource:    acc.Resource,
				Field:       acc.Field,
				TargetPath:  acc.TargetPath,
				Origin:      origin,
				Decision:    feedback.Reject,
				Reason:      ReasonValidation,
			}
			if err := s.store(ctx, rec); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// store records rec under an ID derived from its content, so retrying a
// decision after a partial failure does not count it twice.
func (s *Session) store(ctx context.Context, rec feedback.Record) error {
	if rec.ID == "" {
		rec.ID = feedback.DeriveID(rec)
	}
	err := feedback.Retry(ctx, s.retry, func() error {
		_, err := s.recorder.Record(ctx, rec)
		return err
	})
	if err != nil {
		s.logger.Error("feedback not recorded",
			zap.String("decision", string(rec.Decision)),
			zap.Stringer("origin", rec.Origin),
			zap.Error(err),
		)
	}
	return err
}

func newRecord(set *suggest.Set, d feedback.Decision, path string, origin mm.Origin) feedback.Record {
	return feedback.Record{
		Fingerprint: set.Fingerprint,
		Resource:    set.Resource,
		Field:       field.Normalize(set.Field),
		TargetPath:  path,
		Origin:      origin,
		Decision:    d,
	}
}

func acceptance(set *suggest.Set, path string, origins []mm.Origin) Acceptance {
	return Acceptance{
		Fingerprint: set.Fingerprint,
		Resource:    set.Resource,
		Field:       field.Normalize(set.Field),
		TargetPath:  path,
		Origins:     append([]mm.Origin(nil), origins...),
	}
}

func find(set *suggest.Set, path string) (suggest.Suggestion, error) {
	if set == nil {
		return suggest.Suggestion{}, fmt.Errorf("%w: no suggestion set", mm.ErrConfiguration)
	}
	sg, ok := set.Find(path)
	if !ok {
		return suggest.Suggestion{}, fmt.Errorf("%w: %s was not suggested for %s", mm.ErrConfiguration, path, set.Field)
	}
	return sg, nil
}

// errorAt returns the first error issue located at path or below it.
// Indexes and choice suffixes in issue locations are ignored, so
// "Patient.name[0].family" falls under "Patient.name".
func errorAt(report *mm.Report, path string) (mm.Issue, bool) {
	want := elementPath(path)
	for _, issue := range report.Issues {
		if issue.Severity != mm.SeverityError {
			continue
		}
		got := elementPath(issue.Path)
		if got == want || strings.HasPrefix(got, want+".") {
			return issue, true
		}
	}
	return mm.Issue{}, false
}

// elementPath strips array indexes and reduces choice keys to "[x]" form.
func elementPath(p string) string {
	var b strings.Builder
	depth := 0
	for _, r := range p {
		switch {
		case r == '[':
			depth++
		case r == ']':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	segs := strings.Split(b.String(), ".")
	for i, seg := range segs {
		segs[i] = choiceBase(seg)
	}
	return strings.Join(segs, ".")
}

// choiceBase maps "valueQuantity" and "value[x]" to "value".
func choiceBase(seg string) string {
	for _, prefix := range choicePrefixes {
		if len(seg) > len(prefix) && strings.HasPrefix(seg, prefix) && seg[len(prefix)] >= 'A' && seg[len(prefix)] <= 'Z' {
			return prefix
		}
	}
	return seg
}

var choicePrefixes = []string{"value", "effective", "onset", "abatement", "deceased", "multipleBirth", "occurrence", "performed", "medication"}

func containsOrigin(list []mm.Origin, o mm.Origin) bool {
	for _, x := range list {
		if x == o {
			return true
		}
	}
	return false
}
