package recipe

import (
	"fmt"
	"strings"
	"sync"

	"github.com/refinio/one-core/onerr"
)

// Registry is a process-... well, *handle*-wide type -> Recipe map (spec
// Design Notes: "wrap [process-wide state] in an explicit context/handle
// passed to store APIs; tests create disjoint contexts for isolation").
// Unlike the teacher's package-global table catalog, Registry is a value
// callers construct explicitly, so parallel tests never share recipes.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Recipe
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Recipe)}
}

// Register adds a recipe. Registering the same type name twice fails —
// recipes are meant to be declared once at process boot, before any store
// operation (spec §3 Lifecycle).
func (reg *Registry) Register(r *Recipe) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.types[r.TypeName]; exists {
		return onerr.New(onerr.CodeDuplicateType, fmt.Sprintf("recipe already registered for type %q", r.TypeName))
	}
	reg.types[r.TypeName] = r
	return nil
}

// Get looks up a recipe by type name.
func (reg *Registry) Get(typeName string) (*Recipe, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.types[typeName]
	if !ok {
		return nil, onerr.New(onerr.CodeUnknownType, fmt.Sprintf("no recipe registered for type %q", typeName))
	}
	return r, nil
}

// ResolveRuleInheritance walks an InheritFrom chain
// ("<Type>.<field>[.<field>]...") and returns the materialized ValueType
// the inheriting rule should use. isId is never inherited (spec §3
// invariant: "isId rules cannot be inherited"), so the caller's own IsID
// flag is left untouched by this call.
func (reg *Registry) ResolveRuleInheritance(path string) (ValueType, error) {
	segs := strings.Split(path, ".")
	if len(segs) < 2 {
		return ValueType{}, onerr.New(onerr.CodeUnknownType, fmt.Sprintf("malformed inheritFrom path %q", path))
	}
	typeName := segs[0]
	r, err := reg.Get(typeName)
	if err != nil {
		return ValueType{}, err
	}
	rule, ok := r.Rule(segs[1])
	if !ok {
		return ValueType{}, onerr.New(onerr.CodeUnknownType, fmt.Sprintf("type %q has no field %q", typeName, segs[1]))
	}
	vt := rule.Type
	// walk remaining segments into nested object rules
	for _, seg := range segs[2:] {
		if vt.Kind != VObject {
			return ValueType{}, onerr.New(onerr.CodeUnknownType, fmt.Sprintf("inheritFrom path %q: %q is not an object field", path, seg))
		}
		var next *Rule
		for i := range vt.Rules {
			if vt.Rules[i].FieldName == seg {
				next = &vt.Rules[i]
				break
			}
		}
		if next == nil {
			return ValueType{}, onerr.New(onerr.CodeUnknownType, fmt.Sprintf("inheritFrom path %q: no field %q", path, seg))
		}
		vt = next.Type
	}
	return vt, nil
}

// Resolve returns a copy of the recipe with every InheritFrom rule's
// ValueType materialized in place, ready for the microdata codec to
// consume without re-resolving inheritance on every encode/decode.
func (reg *Registry) Resolve(typeName string) (*Recipe, error) {
	r, err := reg.Get(typeName)
	if err != nil {
		return nil, err
	}
	resolved := &Recipe{TypeName: r.TypeName, Rules: make([]Rule, len(r.Rules))}
	for i, rule := range r.Rules {
		if rule.InheritFrom != "" {
			vt, err := reg.ResolveRuleInheritance(rule.InheritFrom)
			if err != nil {
				return nil, err
			}
			rule.Type = vt
		}
		resolved.Rules[i] = rule
	}
	return resolved, nil
}
