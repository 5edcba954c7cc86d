// Package install attaches validated implementations to their declarations.
//
// Bind mode interprets the implementation and assigns it into a caller's
// function variable for the remainder of the process lifetime. In-place mode
// rewrites the declaring source file; it is destructive and must be opted
// into explicitly.
package install

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"jitgen/internal/logging"
)

// Bind evaluates code in a yaegi interpreter and assigns the named symbol
// into target, which must be a non-nil pointer to a variable of a matching
// type (typically a func variable).
func Bind(code, symbol string, target interface{}) error {
	timer := logging.StartTimer(logging.CategoryInstall, "Bind")
	defer timer.Stop()

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bind target must be a non-nil pointer, got %T", target)
	}
	elem := rv.Elem()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(wrapMain(code)); err != nil {
		return fmt.Errorf("implementation does not evaluate: %w", err)
	}

	v, err := i.Eval("main." + symbol)
	if err != nil {
		return fmt.Errorf("symbol %s not found in implementation: %w", symbol, err)
	}

	switch {
	case v.Type().AssignableTo(elem.Type()):
		elem.Set(v)
	case v.Type().ConvertibleTo(elem.Type()):
		elem.Set(v.Convert(elem.Type()))
	default:
		return fmt.Errorf("symbol %s has type %s, want %s", symbol, v.Type(), elem.Type())
	}

	logging.Install("Bound %s (%s)", symbol, elem.Type())
	return nil
}

func wrapMain(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
