// Package schema validates REST request bodies against JSON Schemas before
// they are decoded.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid marks a body that does not satisfy its schema.
var ErrInvalid = errors.New("invalid request body")

//go:embed requests/*.json
var requestFS embed.FS

// Request schema names, one per endpoint body.
const (
	Ask              = "ask"
	IndexChunk       = "index_chunk"
	Search           = "search"
	Analyze          = "analyze"
	ValidateSolution = "validate_solution"
	Consolidate      = "consolidate"
)

// ValidationError carries the individual schema violations.
type ValidationError struct {
	Schema string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid.Error(), dumpErrors(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validator compiles each named schema once and caches it.
type Validator struct {
	cache sync.Map // name -> *gojsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a raw JSON body against the named request schema.
func (v *Validator) Validate(name string, body []byte) error {
	s, err := v.compiled(name)
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		// not parseable as JSON at all
		return &ValidationError{Schema: name, Errors: []string{"body is not valid JSON: " + err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return &ValidationError{Schema: name, Errors: errs}
}

func (v *Validator) compiled(name string) (*gojsonschema.Schema, error) {
	if val, ok := v.cache.Load(name); ok {
		return val.(*gojsonschema.Schema), nil
	}

	raw, err := requestFS.ReadFile(path.Join("requests", name+".json"))
	if err != nil {
		return nil, fmt.Errorf("unknown request schema %q", name)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	v.cache.Store(name, s)
	return s, nil
}

// dumpErrors keeps the first three violations to bound response size.
func dumpErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	extra := ""
	if len(errs) > 3 {
		extra = fmt.Sprintf(" ... and %d more", len(errs)-3)
		errs = errs[:3]
	}
	return strings.Join(errs, "; ") + extra
}
