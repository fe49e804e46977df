package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
)

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f)
	})

	if err := v.RegisterValidation("datefmt", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("register datefmt validator: %v", err))
	}

	if err := v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := enums[fl.Param()]
		return ok && e.Contains(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register enum validator: %v", err))
	}

	return v
}

// Validate checks fields against the definition.
//
// It returns the fields re-encoded through the report struct, which drops
// nothing valid and orders nested values canonically, together with every
// violation found. Citation coverage is checked separately by CheckCitations.
func (d *Definition) Validate(fields map[string]any, now time.Time) (map[string]any, []Violation) {
	var violations []Violation
	index := d.fieldIndex()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	report := reflect.New(d.reportType)
	badType := map[string]bool{}
	for _, k := range keys {
		i, ok := index[k]
		if !ok {
			violations = append(violations, Violation{
				Code:    CodeUnknownField,
				Field:   k,
				Message: "field is not part of schema " + d.name,
			})
			continue
		}

		if fields[k] == nil {
			continue
		}

		field := report.Elem().Field(i)
		raw, err := json.Marshal(fields[k])
		if err == nil {
			err = json.Unmarshal(raw, field.Addr().Interface())
		}
		if err != nil {
			badType[k] = true
			field.Set(reflect.Zero(field.Type()))
			violations = append(violations, Violation{
				Code:    CodeInvalidType,
				Field:   k,
				Param:   field.Type().String(),
				Message: fmt.Sprintf("expect %s", describeType(field.Type())),
			})
		}
	}

	if err := structValidator.Struct(report.Interface()); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			violations = append(violations, Violation{Code: CodeInvalidType, Message: err.Error()})
		}
		for _, fe := range verrs {
			path := fieldPath(fe.Namespace())
			if badType[topLevel(path)] {
				continue
			}
			violations = append(violations, toViolation(path, fe))
		}
	}

	for _, rule := range d.rules {
		violations = append(violations, rule(report.Interface(), now)...)
	}

	normalized := map[string]any{}
	if raw, err := json.Marshal(report.Interface()); err == nil {
		_ = json.Unmarshal(raw, &normalized)
	}
	for k := range badType {
		normalized[k] = fields[k]
	}

	return normalized, violations
}

// Decode converts already valid fields into the report struct.
func (d *Definition) Decode(fields map[string]any) (any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal fields")
	}
	report := reflect.New(d.reportType).Interface()
	if err = json.Unmarshal(raw, report); err != nil {
		return nil, errors.Wrapf(err, "decode fields into %s", d.reportType.Name())
	}
	return report, nil
}

func toViolation(path string, fe validator.FieldError) Violation {
	v := Violation{Field: path, Param: fe.Param()}
	switch fe.Tag() {
	case "required":
		v.Code = CodeMissingField
		v.Message = "required field is missing"
	case "datefmt":
		v.Code = CodeInvalidDate
		v.Message = fmt.Sprintf("date %q must use YYYY-MM-DD", fe.Value())
	case "enum":
		v.Code = CodeInvalidEnum
		v.Message = fmt.Sprintf("%q is not a valid %s", fe.Value(), fe.Param())
		if e, ok := enums[fe.Param()]; ok {
			v.Message += ", expect one of " + strings.Join(e.Values, ", ")
		}
	case "min", "max", "gte", "lte":
		v.Code = CodeOutOfRange
		v.Message = fmt.Sprintf("value %v violates %s=%s", derefValue(fe.Value()), fe.Tag(), fe.Param())
	default:
		v.Code = CodeInvalidType
		v.Message = fmt.Sprintf("failed on %s", fe.Tag())
	}
	return v
}

// fieldPath strips the report struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func topLevel(path string) string {
	end := strings.IndexAny(path, ".[")
	if end < 0 {
		return path
	}
	return path[:end]
}

func derefValue(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func describeType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "an integer"
	case reflect.Float64, reflect.Float32:
		return "a number"
	case reflect.Slice:
		return "a list"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return t.String()
	}
}

// CheckCitations verifies that citations point only at allowed URLs and that
// every claim field present in fields is covered by at least one citation.
func (d *Definition) CheckCitations(fields map[string]any, citations []Citation, allowed map[string]struct{}) []Violation {
	var violations []Violation
	covered := map[string]bool{}
	for _, c := range citations {
		if _, ok := allowed[c.URL]; !ok {
			violations = append(violations, Violation{
				Code:    CodeCitationOutOfSet,
				Param:   c.URL,
				Message: fmt.Sprintf("citation %q is not one of the input documents", c.URL),
			})
			continue
		}
		for _, claim := range c.Claims {
			covered[claim] = true
		}
	}

	for _, f := range d.claimFields {
		if !present(fields[f]) || covered[f] {
			continue
		}
		violations = append(violations, Violation{
			Code:    CodeCitationMissing,
			Field:   f,
			Message: "claim field has no citation",
		})
	}

	return violations
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// HasBlocking reports whether violations contain a code that repair never fixes.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		switch v.Code {
		case CodeCitationOutOfSet, CodeCitationMissing, CodeSchemaDrift:
			return true
		}
	}
	return false
}

// Codes lists the distinct codes in violations, sorted.
func Codes(violations []Violation) []string {
	seen := map[string]struct{}{}
	for _, v := range violations {
		seen[string(v.Code)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
