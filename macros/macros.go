package macros

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arlenforge/ginseng/parser"
	"github.com/arlenforge/ginseng/runtime"
)

// MacroFunc is the signature a compiled macro body is invoked through.
type MacroFunc func(ctx runtime.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Macro is a `{% macro %}` block bound to the template that defined it.
// A default in Defaults is either a parser.Node (from a parsed macro
// definition, evaluated lazily at call time since it may reference other
// parameters or globals) or a plain Go value (from a hand-built Macro).
type Macro struct {
	Name       string
	Parameters []string
	Defaults   map[string]interface{}
	Body       []parser.Node
	Template   string
}

// MacroRegistry is a template-scoped table of defined macros, safe for
// concurrent registration and lookup from multiple renders.
type MacroRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Macro
}

func NewMacroRegistry() *MacroRegistry {
	return &MacroRegistry{byName: make(map[string]*Macro)}
}

func (r *MacroRegistry) Register(name string, macro *Macro) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("macro %q already registered", name)
	}
	r.byName[name] = macro
	return nil
}

func (r *MacroRegistry) Get(name string) (*Macro, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	macro, ok := r.byName[name]
	return macro, ok
}

func (r *MacroRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func (r *MacroRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*Macro)
}

// Import copies macros defined in fromTemplate from other into r. An empty
// names list imports everything defined there; a non-empty list imports
// only the named macros and errors if one isn't found in that template.
func (r *MacroRegistry) Import(fromTemplate string, other *MacroRegistry, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	other.mu.RLock()
	defer other.mu.RUnlock()

	if len(names) == 0 {
		for name, macro := range other.byName {
			if macro.Template == fromTemplate {
				r.byName[name] = macro
			}
		}
		return nil
	}

	for _, name := range names {
		macro, exists := other.byName[name]
		if !exists || macro.Template != fromTemplate {
			return fmt.Errorf("macro %q not found in template %s", name, fromTemplate)
		}
		r.byName[name] = macro
	}
	return nil
}

// CallMacro looks up name in r and invokes it with args/kwargs.
func (r *MacroRegistry) CallMacro(name string, ctx runtime.Context, evaluator runtime.Evaluator, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	macro, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("macro %q not found", name)
	}
	return bindAndRun(macro, ctx, evaluator, args, kwargs)
}

// bindAndRun builds the macro's call-local context (kwargs, then positional
// args, then defaults evaluated in that same context) and runs its body.
func bindAndRun(macro *Macro, ctx runtime.Context, evaluator runtime.Evaluator, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	callCtx := ctx.Clone()

	for key, value := range kwargs {
		if !hasParameter(macro, key) {
			return nil, fmt.Errorf("unknown parameter %q for macro %q", key, macro.Name)
		}
		callCtx.SetVariable(key, value)
	}

	for i, param := range macro.Parameters {
		if _, alreadySet := callCtx.GetVariable(param); alreadySet {
			continue
		}
		if i < len(args) {
			callCtx.SetVariable(param, args[i])
			continue
		}
		def, hasDefault := macro.Defaults[param]
		if !hasDefault {
			return nil, fmt.Errorf("missing required parameter %q for macro %q", param, macro.Name)
		}
		value, err := resolveDefault(def, callCtx, evaluator)
		if err != nil {
			return nil, fmt.Errorf("evaluating default for parameter %q of macro %q: %w", param, macro.Name, err)
		}
		callCtx.SetVariable(param, value)
	}

	var out strings.Builder
	for _, node := range macro.Body {
		result, err := evaluator.EvalNode(node, callCtx)
		if err != nil {
			return nil, fmt.Errorf("executing macro %q: %w", macro.Name, err)
		}
		if result != nil {
			fmt.Fprintf(&out, "%v", result)
		}
	}
	return out.String(), nil
}

// resolveDefault evaluates def if it's an expression node (the case when a
// default comes from a parsed `{% macro %}` block, which may reference
// other parameters or globals) and returns it as-is otherwise (the case
// when a caller builds a Macro by hand with a plain Go value as a default).
func resolveDefault(def interface{}, ctx runtime.Context, evaluator runtime.Evaluator) (interface{}, error) {
	node, isNode := def.(parser.Node)
	if !isNode {
		return def, nil
	}
	return evaluator.EvalNode(node, ctx)
}

func hasParameter(macro *Macro, name string) bool {
	for _, p := range macro.Parameters {
		if p == name {
			return true
		}
	}
	return false
}

// MacroExecutor runs a single macro against an evaluator, for callers that
// already resolved the *Macro and don't want to look it up through a
// MacroRegistry again.
type MacroExecutor struct {
	evaluator runtime.Evaluator
}

func NewMacroExecutor(evaluator runtime.Evaluator) *MacroExecutor {
	return &MacroExecutor{evaluator: evaluator}
}

func (e *MacroExecutor) Execute(macro *Macro, ctx runtime.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return bindAndRun(macro, ctx, e.evaluator, args, kwargs)
}

// MacroContext bundles a MacroRegistry with the parser-facing helpers
// needed to populate it from `{% macro %}` AST nodes as they're
// encountered during template compilation.
type MacroContext struct {
	registry *MacroRegistry
}

func NewMacroContext() *MacroContext {
	return &MacroContext{registry: NewMacroRegistry()}
}

func (mc *MacroContext) GetRegistry() *MacroRegistry {
	return mc.registry
}

// DefineMacro registers a macro from its parsed `{% macro %}` node. Default
// expressions are kept unevaluated (see Macro.Defaults) since evaluating
// them here, before the macro is ever called, would use the wrong context.
func (mc *MacroContext) DefineMacro(node *parser.MacroNode, templateName string) error {
	defaults := make(map[string]interface{}, len(node.Defaults))
	for key, expr := range node.Defaults {
		defaults[key] = expr
	}

	return mc.registry.Register(node.Name, &Macro{
		Name:       node.Name,
		Parameters: node.Parameters,
		Defaults:   defaults,
		Body:       node.Body,
		Template:   templateName,
	})
}

func (mc *MacroContext) Call(name string, ctx runtime.Context, evaluator runtime.Evaluator, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return mc.registry.CallMacro(name, ctx, evaluator, args, kwargs)
}
