package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/c360studio/autobrancher/reference"
)

// Routing outcomes reported to the Recorder.
const (
	RoutingSkipped    = "skipped"
	RoutingNoMatch    = "no_match"
	RoutingMatched    = "matched"
	RoutingUnresolved = "unresolved"
)

// routingState is the transient model routing state of one run.
type routingState struct {
	ModelName    string
	RedirectStep string
}

// Guard decides whether a mapping entry's criteria expression selects the
// current value of the routing variable.
type Guard interface {
	Match(expression, variable, value string) (bool, error)
}

// ParseGuard maps a configuration value to a Guard.
func ParseGuard(name string) (Guard, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "textual":
		return TextualGuard{}, nil
	case "expr":
		return ExprGuard{}, nil
	default:
		return nil, fmt.Errorf("unknown guard %q (want textual or expr)", name)
	}
}

// TextualGuard matches when the expression contains
// '<variable>' == '<value>' literally, allowing whitespace around ==.
type TextualGuard struct{}

// Match implements Guard.
func (TextualGuard) Match(expression, variable, value string) (bool, error) {
	pattern, err := regexp.Compile(`'` + regexp.QuoteMeta(variable) + `'\s*==\s*'` + regexp.QuoteMeta(value) + `'`)
	if err != nil {
		return false, err
	}
	return pattern.MatchString(expression), nil
}

// ExprGuard evaluates the expression with expr-lang. Quoted occurrences of
// the variable are replaced by the quoted value, and the bare variable name
// (without its @VAR. prefix) is bound in the environment.
type ExprGuard struct{}

// Match implements Guard.
func (ExprGuard) Match(expression, variable, value string) (bool, error) {
	quoted := strconv.Quote(value)
	src := strings.ReplaceAll(expression, "'"+variable+"'", quoted)
	src = strings.ReplaceAll(src, `"`+variable+`"`, quoted)

	env := map[string]any{}
	if name := variableName(variable); name != "" {
		env[name] = value
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile guard: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate guard: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// variableName strips the @VAR. prefix when what remains is an identifier.
func variableName(variable string) string {
	name := variable
	if i := strings.LastIndex(variable, "."); i >= 0 {
		name = variable[i+1:]
	}
	if !identifier.MatchString(name) {
		return ""
	}
	return name
}

// modelBranch is one entry of the mapping document's modelResponse list.
type modelBranch struct {
	Criteria     string
	RedirectStep string
}

// resolveRouting reads the routing variable from the validate command
// document, picks the first mapping branch whose guard matches it and walks
// the branch's redirect target.
func (r *run) resolveRouting() {
	opts := r.engine.opts
	recorder := r.engine.recorder

	validate, ok := r.set.firstIn(opts.ValidateCollection)
	if !ok {
		r.logger.Debug("No validate command resolved, skipping model routing")
		recorder.RoutingOutcome(RoutingSkipped)
		return
	}

	modelName, err := routingVariable(validate, opts.Variable)
	if err != nil {
		r.logger.Warn("No model variable in validate command",
			"document", validate.Name,
			"variable", opts.Variable,
			"error", err)
		recorder.RoutingOutcome(RoutingSkipped)
		return
	}
	r.routing.ModelName = modelName

	mapping, ok := r.set.Get(opts.MappingCollection, opts.MappingDocument)
	if !ok {
		mapping, ok = r.load(opts.MappingCollection, opts.MappingDocument, KindMapping)
		if !ok {
			recorder.RoutingOutcome(RoutingUnresolved)
			return
		}
		r.append(mapping)
	}

	branches, err := modelBranches(mapping)
	if err != nil {
		r.logger.Warn("Unreadable model mapping",
			"document", mapping.Name,
			"error", err)
		recorder.RoutingOutcome(RoutingUnresolved)
		return
	}

	branch, ok := r.selectBranch(branches, modelName)
	if !ok {
		r.logger.Warn("No matching model found", "model_name", modelName)
		recorder.RoutingOutcome(RoutingNoMatch)
		return
	}
	r.routing.RedirectStep = branch.RedirectStep

	ref, err := reference.Parse(branch.RedirectStep)
	if err != nil {
		r.logger.Warn("Unreadable redirect step",
			"model_name", modelName,
			"redirect_step", branch.RedirectStep,
			"error", err)
		recorder.RoutingOutcome(RoutingUnresolved)
		return
	}

	r.logger.Debug("Model routed",
		"model_name", modelName,
		"redirect_step", branch.RedirectStep)
	recorder.RoutingOutcome(RoutingMatched)
	r.resolveRef(ref, KindRouting)
}

func (r *run) selectBranch(branches []modelBranch, modelName string) (modelBranch, bool) {
	opts := r.engine.opts
	for _, b := range branches {
		matched, err := opts.Guard.Match(b.Criteria, opts.Variable, modelName)
		if err != nil {
			r.logger.Debug("Guard not evaluable", "criteria", b.Criteria, "error", err)
			continue
		}
		if matched {
			return b, true
		}
	}
	return modelBranch{}, false
}

// routingVariable reads <firstKey>.variable[<variable>] from the validate
// command document.
func routingVariable(validate Entry, variable string) (string, error) {
	obj, ok := validate.Object()
	if !ok {
		return "", fmt.Errorf("document is not an object")
	}
	inner, ok := obj[validate.FirstKey()].(map[string]any)
	if !ok {
		return "", fmt.Errorf("first key %q is not an object", validate.FirstKey())
	}
	vars, ok := inner["variable"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("no variable map")
	}
	value, ok := vars[variable].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("variable %s not set", variable)
	}
	return value, nil
}

// modelBranches reads <firstKey>.modelResponse from the mapping document.
func modelBranches(mapping Entry) ([]modelBranch, error) {
	obj, ok := mapping.Object()
	if !ok {
		return nil, fmt.Errorf("document is not an object")
	}
	inner, ok := obj[mapping.FirstKey()].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("first key %q is not an object", mapping.FirstKey())
	}
	list, ok := inner["modelResponse"].([]any)
	if !ok {
		return nil, fmt.Errorf("no modelResponse list")
	}

	branches := make([]modelBranch, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		criteria, _ := m["criteria"].(map[string]any)
		b := modelBranch{
			Criteria:     stringField(criteria, "value"),
			RedirectStep: stringField(m, "redirectStep"),
		}
		branches = append(branches, b)
	}
	return branches, nil
}
