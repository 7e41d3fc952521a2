package parksapi

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
)

// Resolver is a filter value bound to the owning instance, evaluated at
// dispatch time before matching. It lets a handler match on per-instance
// dynamic conditions ("hostname equals my current base URL").
type Resolver func(ctx context.Context, owner interface{}) (interface{}, error)

// Filter is a predicate over a bus event, evaluated against the handler's
// owning instance at dispatch time.
type Filter interface {
	Match(ctx context.Context, ev *Event, owner interface{}) (bool, error)
}

// Eq matches when the event field equals the value. If the event field is a
// slice (tags), it matches when any element equals the value.
type Eq struct {
	Field string
	Value interface{}
}

// Match implements Filter.
func (f Eq) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	want, err := resolveValue(ctx, owner, f.Value)
	if err != nil {
		return false, err
	}
	got, ok := ev.Field(f.Field)
	if !ok {
		return false, nil
	}
	return fieldEquals(got, want), nil
}

// Pattern matches when the event field's string form matches the regular
// expression.
type Pattern struct {
	Field string
	Expr  *regexp.Regexp
}

// MatchPattern builds a Pattern filter, compiling the expression.
func MatchPattern(field, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid filter pattern %q: %w", expr, err)
	}
	return Pattern{Field: field, Expr: re}, nil
}

// Match implements Filter.
func (f Pattern) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	if f.Expr == nil {
		return false, fmt.Errorf("pattern filter on %q has no expression", f.Field)
	}
	got, ok := ev.Field(f.Field)
	if !ok {
		return false, nil
	}
	if list, isList := got.([]string); isList {
		for _, item := range list {
			if f.Expr.MatchString(item) {
				return true, nil
			}
		}
		return false, nil
	}
	return f.Expr.MatchString(fmt.Sprintf("%v", got)), nil
}

// In matches when the event field equals any of the listed values. A slice
// field matches when any of its elements is listed.
type In struct {
	Field  string
	Values []interface{}
}

// Match implements Filter.
func (f In) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	got, ok := ev.Field(f.Field)
	if !ok {
		return false, nil
	}
	for _, v := range f.Values {
		want, err := resolveValue(ctx, owner, v)
		if err != nil {
			return false, err
		}
		if fieldEquals(got, want) {
			return true, nil
		}
	}
	return false, nil
}

// NotIn matches when the event field equals none of the listed values.
type NotIn struct {
	Field  string
	Values []interface{}
}

// Match implements Filter.
func (f NotIn) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	matched, err := In{Field: f.Field, Values: f.Values}.Match(ctx, ev, owner)
	if err != nil {
		return false, err
	}
	return !matched, nil
}

// Exists matches when the event carries the field with a non-zero value.
type Exists struct {
	Field string
}

// Match implements Filter.
func (f Exists) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	got, ok := ev.Field(f.Field)
	if !ok || got == nil {
		return false, nil
	}
	v := reflect.ValueOf(got)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return v.Len() > 0, nil
	default:
		return !v.IsZero(), nil
	}
}

// And matches when all child filters match. An empty And matches everything.
type And []Filter

// Match implements Filter.
func (f And) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	for _, child := range f {
		ok, err := child.Match(ctx, ev, owner)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Or matches when any child filter matches.
type Or []Filter

// Match implements Filter.
func (f Or) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	for _, child := range f {
		ok, err := child.Match(ctx, ev, owner)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Any matches every event. Useful for handlers that self-select.
type Any struct{}

// Match implements Filter.
func (Any) Match(ctx context.Context, ev *Event, owner interface{}) (bool, error) {
	return true, nil
}

func resolveValue(ctx context.Context, owner, v interface{}) (interface{}, error) {
	if fn, ok := v.(Resolver); ok {
		return fn(ctx, owner)
	}
	return v, nil
}

func fieldEquals(got, want interface{}) bool {
	if list, ok := got.([]string); ok {
		wantStr := fmt.Sprintf("%v", want)
		for _, item := range list {
			if item == wantStr {
				return true
			}
		}
		return false
	}
	if got == want {
		return true
	}
	// Numeric comparisons arrive with mixed types (int vs float64 from
	// JSON); fall back to string forms.
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}
