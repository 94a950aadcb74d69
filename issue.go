package mapmaster

// Severity represents the severity of a validation issue.
type Severity string

const (
	// SeverityError makes the report fail.
	SeverityError Severity = "error"
	// SeverityWarning indicates a potential problem that should be reviewed.
	SeverityWarning Severity = "warning"
	// SeverityInformation indicates informational feedback.
	SeverityInformation Severity = "information"
)

// IssueCode is the machine-readable code of a validation issue.
type IssueCode string

const (
	// CodeStructure indicates a malformed resource.
	CodeStructure IssueCode = "structure"
	// CodeRequired indicates a required element is missing.
	CodeRequired IssueCode = "required"
	// CodeCardinality indicates an element repeats more than allowed.
	CodeCardinality IssueCode = "cardinality"
	// CodeValue indicates a primitive value of the wrong format.
	CodeValue IssueCode = "value"
	// CodeFixedValue indicates a value that differs from a profile's fixed value.
	CodeFixedValue IssueCode = "fixed-value"
	// CodeCodeInvalid indicates a code outside its bound value set.
	CodeCodeInvalid IssueCode = "code-invalid"
	// CodeTerminologyUnavailable indicates a binding that could not be checked.
	CodeTerminologyUnavailable IssueCode = "terminology-unavailable"
	// CodeBusinessRule indicates a business rule violation.
	CodeBusinessRule IssueCode = "business-rule"
	// CodeNotFound indicates a reference that does not resolve.
	CodeNotFound IssueCode = "not-found"
	// CodeUnknownType indicates a resource type without a base definition.
	CodeUnknownType IssueCode = "unknown-type"
)

// Issue represents a single validation issue. Issues are values and are
// never modified after they are built.
type Issue struct {
	// Severity of the issue (error, warning, information)
	Severity Severity `json:"severity"`

	// Layer is the validation layer that produced the issue
	Layer Layer `json:"layer"`

	// Path is the element path within the resource, e.g. "Patient.identifier"
	Path string `json:"path,omitempty"`

	// Code identifying the type of issue
	Code IssueCode `json:"code"`

	// Message contains human-readable details about the issue
	Message string `json:"message"`

	// SuggestedFix is an optional hint for the reviewer
	SuggestedFix string `json:"suggestedFix,omitempty"`

	// Rule is the id of the business rule that produced the issue, if any
	Rule string `json:"rule,omitempty"`
}

// IsError returns true if this is an error issue.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError
}

// IsWarning returns true if this is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	path := ""
	if i.Path != "" {
		path = " at " + i.Path
	}
	return string(i.Severity) + " [" + string(i.Layer) + "]: " + i.Message + path
}

// IssueBuilder provides a fluent API for building issues.
type IssueBuilder struct {
	issue Issue
}

// NewIssue creates a new IssueBuilder.
func NewIssue(severity Severity, code IssueCode) *IssueBuilder {
	return &IssueBuilder{
		issue: Issue{
			Severity: severity,
			Code:     code,
		},
	}
}

// Error creates an error issue.
func Error(code IssueCode) *IssueBuilder {
	return NewIssue(SeverityError, code)
}

// Warning creates a warning issue.
func Warning(code IssueCode) *IssueBuilder {
	return NewIssue(SeverityWarning, code)
}

// Info creates an informational issue.
func Info(code IssueCode) *IssueBuilder {
	return NewIssue(SeverityInformation, code)
}

// Message sets the human-readable message.
func (b *IssueBuilder) Message(msg string) *IssueBuilder {
	b.issue.Message = msg
	return b
}

// At sets the element path.
func (b *IssueBuilder) At(path string) *IssueBuilder {
	b.issue.Path = path
	return b
}

// In sets the validation layer.
func (b *IssueBuilder) In(layer Layer) *IssueBuilder {
	b.issue.Layer = layer
	return b
}

// Fix sets the suggested fix.
func (b *IssueBuilder) Fix(fix string) *IssueBuilder {
	b.issue.SuggestedFix = fix
	return b
}

// Rule sets the originating business rule id.
func (b *IssueBuilder) Rule(id string) *IssueBuilder {
	b.issue.Rule = id
	return b
}

// Build returns the constructed issue.
func (b *IssueBuilder) Build() Issue {
	return b.issue
}
