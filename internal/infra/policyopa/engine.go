package policyopa

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"grantdesk/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.grantdesk.authz.allow"

//go:embed policy/*.rego
var embeddedPolicy embed.FS

// Engine decides whether a principal may perform an action on a report.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the built-in policy, or the .rego files under
// policyPath when it is set.
func NewEngine(ctx context.Context, policyPath string) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	if strings.TrimSpace(policyPath) != "" {
		opts = append(opts, rego.Load([]string{policyPath}, nil))
	} else {
		modules, err := embeddedModules()
		if err != nil {
			return nil, err
		}
		for name, src := range modules {
			opts = append(opts, rego.Module(name, src))
		}
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile authorization policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Allow(ctx context.Context, principal domain.Principal, action domain.Action, report domain.Report) (bool, error) {
	if e == nil {
		return false, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(buildInput(principal, action, report)))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, errors.New("empty policy result")
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy result is %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

func buildInput(principal domain.Principal, action domain.Action, report domain.Report) map[string]any {
	roles := make([]any, 0, len(principal.Roles))
	for _, role := range principal.Roles {
		roles = append(roles, role)
	}
	return map[string]any{
		"action": string(action),
		"principal": map[string]any{
			"subject": principal.Subject,
			"roles":   roles,
		},
		"report": map[string]any{
			"id":              report.ID,
			"subject_id":      report.SubjectID,
			"project_id":      report.ProjectID,
			"organization_id": report.OrganizationID,
			"status":          string(report.Status),
		},
	}
}

func embeddedModules() (map[string]string, error) {
	entries, err := embeddedPolicy.ReadDir("policy")
	if err != nil {
		return nil, err
	}
	modules := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := "policy/" + entry.Name()
		src, err := embeddedPolicy.ReadFile(name)
		if err != nil {
			return nil, err
		}
		modules[name] = string(src)
	}
	return modules, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
