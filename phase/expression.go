package phase

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/service"
)

// ExpressionRule is a business rule written as a FHIRPath expression that
// must hold for every resource of its type.
type ExpressionRule struct {
	RuleID     string      `yaml:"id"`
	Resource   string      `yaml:"resource"`
	Severity   mm.Severity `yaml:"severity"`
	Expression string      `yaml:"expression"`
	Message    string      `yaml:"message"`
	Path       string      `yaml:"path,omitempty"`
	Fix        string      `yaml:"fix,omitempty"`

	eval service.FHIRPathEvaluator
}

type expressionFile struct {
	Rules []ExpressionRule `yaml:"rules"`
}

// ID implements Rule.
func (r *ExpressionRule) ID() string { return r.RuleID }

// Applies implements Rule. An empty or "*" resource matches every type.
func (r *ExpressionRule) Applies(resourceType string) bool {
	return r.Resource == "" || r.Resource == "*" || r.Resource == resourceType
}

// Check implements Rule. A false result produces one issue at the rule's
// severity; an evaluation failure produces a warning.
func (r *ExpressionRule) Check(ctx context.Context, pctx *pipeline.Context) []mm.Issue {
	path := r.Path
	if path == "" {
		path = pctx.ResourceType
	}
	ok, err := r.eval.Evaluate(ctx, r.Expression, pctx.Resource)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return []mm.Issue{mm.Warning(mm.CodeBusinessRule).
			At(path).
			Message(fmt.Sprintf("rule %s could not be evaluated: %v", r.RuleID, err)).
			Build()}
	}
	if ok {
		return nil
	}
	return []mm.Issue{mm.NewIssue(r.Severity, mm.CodeBusinessRule).
		At(path).
		Message(r.Message).
		Fix(r.Fix).
		Build()}
}

// LoadExpressionRules reads expression rules from a YAML file.
func LoadExpressionRules(path string, eval *service.FHIRPathAdapter) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", mm.ErrMalformedRules, path, err)
	}
	return ParseExpressionRules(data, eval)
}

// ParseExpressionRules parses expression rules and compiles every
// expression up front, so a bad rule fails at load time.
func ParseExpressionRules(data []byte, eval *service.FHIRPathAdapter) ([]Rule, error) {
	var f expressionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", mm.ErrMalformedRules, err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := f.Rules[i]
		switch {
		case r.RuleID == "":
			return nil, fmt.Errorf("%w: expression rule %d has no id", mm.ErrMalformedRules, i)
		case seen[r.RuleID]:
			return nil, fmt.Errorf("%w: duplicate rule id %s", mm.ErrMalformedRules, r.RuleID)
		case r.Expression == "":
			return nil, fmt.Errorf("%w: rule %s has no expression", mm.ErrMalformedRules, r.RuleID)
		}
		switch r.Severity {
		case "":
			r.Severity = mm.SeverityError
		case mm.SeverityError, mm.SeverityWarning, mm.SeverityInformation:
		default:
			return nil, fmt.Errorf("%w: rule %s has unknown severity %q", mm.ErrMalformedRules, r.RuleID, r.Severity)
		}
		if err := eval.Compile(r.Expression); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", mm.ErrMalformedRules, r.RuleID, err)
		}
		if r.Message == "" {
			r.Message = "rule " + r.RuleID + " failed: " + r.Expression
		}
		seen[r.RuleID] = true
		r.eval = eval
		rules = append(rules, &r)
	}
	return rules, nil
}

// NewExpressionRule builds a single rule evaluated by eval.
func NewExpressionRule(id, resource string, severity mm.Severity, expression, message string, eval service.FHIRPathEvaluator) *ExpressionRule {
	return &ExpressionRule{
		RuleID:     id,
		Resource:   resource,
		Severity:   severity,
		Expression: expression,
		Message:    message,
		eval:       eval,
	}
}
