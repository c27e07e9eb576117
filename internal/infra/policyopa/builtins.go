package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is everything an authorization policy may call. Anything
// that reaches outside the input document (http.send, time.now_ns, opa.runtime)
// is rejected at compile time.
var allowedBuiltins = map[string]struct{}{
	"assign":            {},
	"concat":            {},
	"count":             {},
	"endswith":          {},
	"eq":                {},
	"equal":             {},
	"internal.member_2": {},
	"lower":             {},
	"neq":               {},
	"object.get":        {},
	"split":             {},
	"startswith":        {},
	"trim_space":        {},
	"upper":             {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
