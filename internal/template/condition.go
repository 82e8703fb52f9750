package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// ErrUnsupportedOperator is returned for `===`, `!==`, `<`, `<=`, `>`,
// `>=`, which the condition grammar explicitly rejects.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// ConditionSyntaxError wraps a malformed or unsupported condition
// expression.
type ConditionSyntaxError struct {
	Expr string
	Err  error
}

func (e *ConditionSyntaxError) Error() string {
	return fmt.Sprintf("condition syntax error in %q: %v", e.Expr, e.Err)
}

func (e *ConditionSyntaxError) Unwrap() error { return e.Err }

// EvaluateCondition evaluates a condition expression (after outer
// `${{ }}` wrapper stripping) against a run-context JSON tree. It
// returns the boolean result and the set of path expressions that were
// referenced but did not resolve; outside of an `== null` comparison,
// any such reference forces the result to false.
func EvaluateCondition(expr string, ctx map[string]any) (bool, []string, error) {
	p := &condParser{s: expr, ctx: ctx}
	result, unresolved, err := p.parseOr()
	if err != nil {
		return false, nil, &ConditionSyntaxError{Expr: expr, Err: err}
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return false, nil, &ConditionSyntaxError{Expr: expr, Err: fmt.Errorf("unexpected trailing input at %d", p.pos)}
	}
	return result, unresolved, nil
}

type condParser struct {
	s   string
	pos int
	ctx map[string]any
}

func (p *condParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *condParser) rest() string { return p.s[p.pos:] }

func (p *condParser) parseOr() (bool, []string, error) {
	left, unresolved, err := p.parseAnd()
	if err != nil {
		return false, nil, err
	}
	for {
		p.skipSpace()
		if strings.HasPrefix(p.rest(), "||") {
			p.pos += 2
			right, u2, err := p.parseAnd()
			if err != nil {
				return false, nil, err
			}
			left = left || right
			unresolved = append(unresolved, u2...)
			continue
		}
		break
	}
	return left, unresolved, nil
}

func (p *condParser) parseAnd() (bool, []string, error) {
	left, unresolved, err := p.parseUnary()
	if err != nil {
		return false, nil, err
	}
	for {
		p.skipSpace()
		if strings.HasPrefix(p.rest(), "&&") {
			p.pos += 2
			right, u2, err := p.parseUnary()
			if err != nil {
				return false, nil, err
			}
			left = left && right
			unresolved = append(unresolved, u2...)
			continue
		}
		break
	}
	return left, unresolved, nil
}

func (p *condParser) parseUnary() (bool, []string, error) {
	negate := false
	for {
		p.skipSpace()
		if strings.HasPrefix(p.rest(), "!=") {
			break
		}
		if strings.HasPrefix(p.rest(), "!") {
			negate = !negate
			p.pos++
			continue
		}
		break
	}
	val, unresolved, err := p.parsePrimary()
	if err != nil {
		return false, nil, err
	}
	if negate {
		val = !val
	}
	return val, unresolved, nil
}

type operand struct {
	value    any
	isPath   bool
	resolved bool
	expr     string
}

func isNullOperand(o operand) bool {
	return !o.isPath && o.value == nil
}

func (p *condParser) parsePrimary() (bool, []string, error) {
	op1, err := p.parseOperand()
	if err != nil {
		return false, nil, err
	}
	p.skipSpace()
	rest := p.rest()
	switch {
	case strings.HasPrefix(rest, "==="):
		return false, nil, fmt.Errorf("%w: ===", ErrUnsupportedOperator)
	case strings.HasPrefix(rest, "!=="):
		return false, nil, fmt.Errorf("%w: !==", ErrUnsupportedOperator)
	case strings.HasPrefix(rest, "=="):
		p.pos += 2
		op2, err := p.parseOperand()
		if err != nil {
			return false, nil, err
		}
		return evalEquality(op1, op2, true)
	case strings.HasPrefix(rest, "!="):
		p.pos += 2
		op2, err := p.parseOperand()
		if err != nil {
			return false, nil, err
		}
		return evalEquality(op1, op2, false)
	case strings.HasPrefix(rest, "<="):
		return false, nil, fmt.Errorf("%w: <=", ErrUnsupportedOperator)
	case strings.HasPrefix(rest, ">="):
		return false, nil, fmt.Errorf("%w: >=", ErrUnsupportedOperator)
	case strings.HasPrefix(rest, ".includes("):
		p.pos += len(".includes(")
		op2, err := p.parseOperand()
		if err != nil {
			return false, nil, err
		}
		p.skipSpace()
		if !strings.HasPrefix(p.rest(), ")") {
			return false, nil, fmt.Errorf("expected ) to close .includes(")
		}
		p.pos++
		return evalIncludes(op1, op2)
	case strings.HasPrefix(rest, "<"):
		return false, nil, fmt.Errorf("%w: <", ErrUnsupportedOperator)
	case strings.HasPrefix(rest, ">"):
		return false, nil, fmt.Errorf("%w: >", ErrUnsupportedOperator)
	default:
		if op1.isPath && !op1.resolved {
			return false, []string{op1.expr}, nil
		}
		return truthy(op1.value), nil, nil
	}
}

func evalEquality(op1, op2 operand, wantEqual bool) (bool, []string, error) {
	var unresolved []string
	suppress := wantEqual && (isNullOperand(op1) || isNullOperand(op2))
	if !suppress {
		if op1.isPath && !op1.resolved {
			unresolved = append(unresolved, op1.expr)
		}
		if op2.isPath && !op2.resolved {
			unresolved = append(unresolved, op2.expr)
		}
	}
	v1 := op1.value
	if op1.isPath && !op1.resolved {
		v1 = nil
	}
	v2 := op2.value
	if op2.isPath && !op2.resolved {
		v2 = nil
	}
	eq := deepEqual(v1, v2)
	result := eq == wantEqual
	if len(unresolved) > 0 {
		result = false
	}
	return result, unresolved, nil
}

func evalIncludes(op1, op2 operand) (bool, []string, error) {
	if op1.isPath && !op1.resolved {
		return false, []string{op1.expr}, nil
	}
	var unresolved []string
	if op2.isPath && !op2.resolved {
		unresolved = append(unresolved, op2.expr)
	}
	needle := op2.value
	if op2.isPath && !op2.resolved {
		needle = nil
	}
	result := false
	switch hay := op1.value.(type) {
	case []any:
		for _, item := range hay {
			if deepEqual(item, needle) {
				result = true
				break
			}
		}
	case string:
		if s, ok := needle.(string); ok {
			result = strings.Contains(hay, s)
		}
	}
	if len(unresolved) > 0 {
		result = false
	}
	return result, unresolved, nil
}

// truthy delegates to go.starlark.net's own truthiness rule rather
// than re-deriving a parallel switch: None/empty-string/zero-number/
// empty-list/empty-dict are false, everything else true, which is
// exactly this grammar's truthy rule.
func truthy(v any) bool {
	return bool(goToStarlark(v).Truth())
}

// deepEqual compares two resolved JSON values by converting both to
// starlark.Value and asking starlark.Equal, so lists and dicts get the
// library's structural equality rather than a re-implementation of it.
func deepEqual(a, b any) bool {
	eq, err := starlark.Equal(goToStarlark(a), goToStarlark(b))
	if err != nil {
		return false
	}
	return eq
}

// goToStarlark converts a decoded JSON value (nil/bool/float64/string/
// []any/map[string]any, the shapes encoding/json produces into `any`)
// into its starlark.Value counterpart, covering only the value shapes
// this grammar's operands actually produce.
func goToStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			elems[i] = goToStarlark(elem)
		}
		return starlark.NewList(elems)
	case map[string]any:
		d := starlark.NewDict(len(val))
		for k, elem := range val {
			_ = d.SetKey(starlark.String(k), goToStarlark(elem))
		}
		return d
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func (p *condParser) parseOperand() (operand, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return operand{}, fmt.Errorf("unexpected end of expression")
	}
	c := p.s[p.pos]
	switch {
	case c == '"':
		return p.parseDoubleQuoted()
	case c == '\'':
		return p.parseSingleQuoted()
	case c == '[' || c == '{':
		return p.parseJSONLiteral()
	case strings.HasPrefix(p.rest(), "null"):
		p.pos += 4
		return operand{value: nil}, nil
	case strings.HasPrefix(p.rest(), "true"):
		p.pos += 4
		return operand{value: true}, nil
	case strings.HasPrefix(p.rest(), "false"):
		p.pos += 5
		return operand{value: false}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parsePathOperand()
	}
}

func (p *condParser) parseDoubleQuoted() (operand, error) {
	dec := json.NewDecoder(strings.NewReader(p.s[p.pos:]))
	var v string
	if err := dec.Decode(&v); err != nil {
		return operand{}, fmt.Errorf("invalid string literal: %w", err)
	}
	p.pos += int(dec.InputOffset())
	return operand{value: v}, nil
}

func (p *condParser) parseSingleQuoted() (operand, error) {
	i := p.pos + 1
	var sb strings.Builder
	for i < len(p.s) {
		c := p.s[i]
		if c == '\\' && i+1 < len(p.s) {
			sb.WriteByte(p.s[i+1])
			i += 2
			continue
		}
		if c == '\'' {
			p.pos = i + 1
			return operand{value: sb.String()}, nil
		}
		sb.WriteByte(c)
		i++
	}
	return operand{}, fmt.Errorf("unterminated string literal")
}

func (p *condParser) parseJSONLiteral() (operand, error) {
	dec := json.NewDecoder(strings.NewReader(p.s[p.pos:]))
	var v any
	if err := dec.Decode(&v); err != nil {
		return operand{}, fmt.Errorf("invalid json literal: %w", err)
	}
	p.pos += int(dec.InputOffset())
	return operand{value: v}, nil
}

func (p *condParser) parseNumber() (operand, error) {
	start := p.pos
	i := p.pos
	if p.s[i] == '-' {
		i++
	}
	for i < len(p.s) && (p.s[i] >= '0' && p.s[i] <= '9' || p.s[i] == '.' || p.s[i] == 'e' || p.s[i] == 'E' || p.s[i] == '+' || p.s[i] == '-') {
		i++
	}
	var v float64
	dec := json.NewDecoder(strings.NewReader(p.s[start:i]))
	if err := dec.Decode(&v); err != nil {
		return operand{}, fmt.Errorf("invalid number literal: %w", err)
	}
	p.pos = start + int(dec.InputOffset())
	return operand{value: v}, nil
}

func isPathChar(c byte) bool {
	return c == '.' || c == '_' || c == '[' || c == ']' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *condParser) parsePathOperand() (operand, error) {
	start := p.pos
	i := p.pos
	for i < len(p.s) && isPathChar(p.s[i]) {
		i++
	}
	if i == start {
		if i < len(p.s) {
			return operand{}, fmt.Errorf("unexpected character %q at %d", p.s[i], i)
		}
		return operand{}, fmt.Errorf("unexpected end of expression at %d", i)
	}
	// A trailing ".includes" belongs to the operator, not the path:
	// the scan above cannot tell "steps.x.tags.includes(" apart from a
	// plain path until the "(" is seen.
	if strings.HasSuffix(p.s[start:i], ".includes") && i < len(p.s) && p.s[i] == '(' {
		i -= len(".includes")
	}
	expr := p.s[start:i]
	p.pos = i
	val, ok := ResolvePath(p.ctx, expr)
	return operand{value: val, isPath: true, resolved: ok, expr: expr}, nil
}
