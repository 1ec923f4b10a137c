/*
Package schema validates ledger rows immediately before they are written.

PURPOSE:
  The last check before an irreversible financial insert. A candidate row
  is stripped of unknown fields, then every schema field is type checked.
  A field that fails gets exactly one coercion attempt (for example the
  string "42" becomes the int 42) and is checked again. If it still fails
  the whole row is rejected with an error that names the field and the
  customer that owns the row.

  This does not replace input validation at the API; it catches rows that
  were assembled wrong inside the engine.

ROW VALUES AFTER VALIDATION:
  int        int64
  string     string
  text       string
  decimal    decimal.Decimal
  boolean    bool
  date       time.Time (midnight UTC)
  timestamp  time.Time (UTC)
  nullable   nil is accepted, and a missing nullable field becomes nil

SEE ALSO:
  - entities.go: Invoice, Transaction, Payment, WriteOff, Retainer schemas
  - records.go:  Typed record <-> Row conversion (Check* helpers)
*/
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Row is a candidate database row keyed by column name.
type Row map[string]any

// FieldType is the expected type of a column.
type FieldType string

const (
	Int       FieldType = "int"
	String    FieldType = "string"
	Text      FieldType = "text"
	Decimal   FieldType = "decimal"
	Boolean   FieldType = "boolean"
	Date      FieldType = "date"
	Timestamp FieldType = "timestamp"
)

type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Schema describes the columns of one entity.
type Schema struct {
	Entity string // used in error messages, e.g. "invoice"
	Fields []Field

	// Log receives coercion notices. Zero value logs nothing.
	Log zerolog.Logger
}

// ErrSchemaValidation is wrapped by every ValidationError.
var ErrSchemaValidation = errors.New("schema validation failed")

// ValidationError names the field that could not be validated or coerced.
type ValidationError struct {
	Entity     string
	Field      string
	Expected   FieldType
	CustomerID any
	Value      any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s object failed prior to database insert on %s (expected %s, got %T) for customer %v",
		e.Entity, e.Field, e.Expected, e.Value, e.CustomerID)
}

func (e *ValidationError) Unwrap() error { return ErrSchemaValidation }

// Has reports whether the schema defines a field.
func (s Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Validate returns a cleaned copy of row or a *ValidationError.
func (s Schema) Validate(row Row) (Row, error) {
	out := make(Row, len(s.Fields))
	for _, f := range s.Fields {
		if v, ok := row[f.Name]; ok {
			out[f.Name] = v
		}
	}

	for _, f := range s.Fields {
		v, present := out[f.Name]
		if f.Nullable && (!present || v == nil) {
			out[f.Name] = nil
			continue
		}
		if present && check(f.Type, v) {
			continue
		}

		s.Log.Debug().Str("entity", s.Entity).Str("field", f.Name).
			Msg("field failed type validation, attempting to correct")

		corrected, ok := coerce(f.Type, v)
		if !ok || !check(f.Type, corrected) {
			return nil, &ValidationError{
				Entity:     s.Entity,
				Field:      f.Name,
				Expected:   f.Type,
				CustomerID: row["customer_id"],
				Value:      v,
			}
		}
		out[f.Name] = corrected
		s.Log.Debug().Str("entity", s.Entity).Str("field", f.Name).Msg("field type corrected")
	}
	return out, nil
}

// =============================================================================
// TYPE CHECKS
// =============================================================================

func check(t FieldType, v any) bool {
	switch t {
	case Int:
		_, ok := v.(int64)
		return ok
	case String, Text:
		_, ok := v.(string)
		return ok
	case Decimal:
		_, ok := v.(decimal.Decimal)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Date, Timestamp:
		tm, ok := v.(time.Time)
		return ok && !tm.IsZero()
	}
	return false
}

// =============================================================================
// COERCION - one attempt per field
// =============================================================================

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, "2006-01-02 15:04:05", "01/02/2006"}

func coerce(t FieldType, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch t {
	case Int:
		return toInt(v)
	case String, Text:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().Format(time.RFC3339), true
		}
		return fmt.Sprint(v), true
	case Decimal:
		return toDecimal(v)
	case Boolean:
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			return b, err == nil
		}
		return nil, false
	case Date:
		tm, ok := toTime(v)
		if !ok {
			return nil, false
		}
		u := tm.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), true
	case Timestamp:
		tm, ok := toTime(v)
		if !ok {
			return nil, false
		}
		return tm.UTC(), true
	}
	return nil, false
}

func toInt(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return int64(x), true
	case decimal.Decimal:
		if !x.IsInteger() {
			return nil, false
		}
		return x.IntPart(), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), true
	}
	return nil, false
}

func toDecimal(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	}
	return nil, false
}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm, true
		}
	}
	return time.Time{}, false
}
