package dynamic

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Expression errors.
var (
	ErrBadExpression  = errors.New("invalid field expression")
	ErrUnknownRef     = errors.New("expression references an unknown field")
	ErrNotNumeric     = errors.New("arithmetic on a non-numeric value")
	ErrTypeMismatch   = errors.New("value does not match the field type")
	ErrUnknownHookRef = errors.New("hook bound to an unknown state or command")
)

const (
	refPrefix    = "$"
	sharedPrefix = "shared."
)

var (
	// deltaPattern splits a trailing "+n" or "-n" off a reference. Only a
	// number ends the name, so $max-retries is a plain reference and
	// $max-retries-1 subtracts one from it.
	deltaPattern = regexp.MustCompile(`^(.+?)\s*([+-])\s*(\d*\.?\d+)\s*$`)
	refPattern   = regexp.MustCompile(`^[A-Za-z_](?:[A-Za-z0-9_-]*[A-Za-z0-9_])?$`)
)

// expr computes one field of a new context from the outgoing context and
// the shared context. Values are either literals or references like $x,
// $shared.id, $x+1 or $x-2.
type expr struct {
	literal any
	ref     string
	shared  bool
	delta   float64
	isRef   bool
}

func (e expr) eval(current, shared Record) (any, error) {
	if !e.isRef {
		return e.literal, nil
	}

	src := current
	if e.shared {
		src = shared
	}

	v := src[e.ref]
	if e.delta == 0 {
		return v, nil
	}

	return add(v, e.delta)
}

// parseExpr compiles a YAML value. A string starting with "$$" is the
// literal string with one "$" removed.
func parseExpr(value any) (expr, error) {
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, refPrefix) {
		return expr{literal: value}, nil
	}

	if strings.HasPrefix(s, "$$") {
		return expr{literal: s[1:]}, nil
	}

	body := s[len(refPrefix):]

	e := expr{isRef: true}

	if m := deltaPattern.FindStringSubmatch(body); m != nil {
		delta, err := strconv.ParseFloat(m[2]+m[3], 64)
		if err != nil {
			return expr{}, fmt.Errorf("%w: %q", ErrBadExpression, s)
		}

		e.delta = delta
		body = m[1]
	}

	body = strings.TrimSpace(body)
	if rest, isShared := strings.CutPrefix(body, sharedPrefix); isShared {
		e.shared = true
		body = rest
	}

	if !refPattern.MatchString(body) {
		return expr{}, fmt.Errorf("%w: %q", ErrBadExpression, s)
	}

	e.ref = body

	return e, nil
}

func add(v any, delta float64) (any, error) {
	switch n := v.(type) {
	case int:
		if delta == math.Trunc(delta) {
			return n + int(delta), nil
		}

		return float64(n) + delta, nil
	case int64:
		if delta == math.Trunc(delta) {
			return n + int64(delta), nil
		}

		return float64(n) + delta, nil
	case uint64:
		return float64(n) + delta, nil
	case float64:
		return n + delta, nil
	default:
		return nil, fmt.Errorf("%w: %v (%T)", ErrNotNumeric, v, v)
	}
}

// conforms reports whether v may be stored in a field of the given type.
// Unknown or empty types accept anything.
func conforms(typ string, v any) bool {
	if v == nil {
		return true
	}

	switch typ {
	case "int":
		switch v.(type) {
		case int, int64, uint64:
			return true
		}

		return false
	case "float":
		switch v.(type) {
		case int, int64, uint64, float64:
			return true
		}

		return false
	case "string":
		_, ok := v.(string)

		return ok
	case "bool":
		_, ok := v.(bool)

		return ok
	default:
		return true
	}
}
