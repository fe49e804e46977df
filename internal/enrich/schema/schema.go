// Package schema holds the domain schemas the synthesized output must satisfy,
// together with the versioned prompt each schema is requested with.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"text/template"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/invopop/jsonschema"
)

// DateLayout is the only date format accepted in artifacts.
const DateLayout = "2006-01-02"

// Code classifies a violation.
type Code string

const (
	CodeMissingField     Code = "missing_field"
	CodeInvalidType      Code = "invalid_type"
	CodeUnknownField     Code = "unknown_field"
	CodeInvalidDate      Code = "invalid_date"
	CodeInvalidEnum      Code = "invalid_enum"
	CodeOutOfRange       Code = "out_of_range"
	CodeBusinessRule     Code = "business_rule"
	CodeCitationMissing  Code = "citation_missing"
	CodeCitationOutOfSet Code = "citation_out_of_set"
	CodeSchemaDrift      Code = "schema_drift"
)

// Violation is one schema problem found in a synthesis result.
type Violation struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (v Violation) String() string {
	if v.Field == "" {
		return string(v.Code) + ": " + v.Message
	}
	return string(v.Code) + " " + v.Field + ": " + v.Message
}

// Citation ties a source URL to the claim fields it supports.
type Citation struct {
	URL    string   `json:"url"`
	Claims []string `json:"claims"`
}

// Rule is a domain business rule evaluated on a decoded report.
type Rule func(report any, now time.Time) []Violation

// Enum is a closed set of values with lenient aliases used by repair.
type Enum struct {
	Name    string
	Values  []string
	Aliases map[string]string
}

// Normalize maps v onto an allowed value, matching case-insensitively
// against values and aliases.
func (e Enum) Normalize(v string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(v), " "))
	for _, allowed := range e.Values {
		if strings.ToLower(allowed) == key {
			return allowed, true
		}
	}
	if target, ok := e.Aliases[key]; ok {
		return target, true
	}
	return "", false
}

// Contains reports whether v is exactly an allowed value.
func (e Enum) Contains(v string) bool {
	for _, allowed := range e.Values {
		if allowed == v {
			return true
		}
	}
	return false
}

// Definition is an immutable domain schema plus its prompt.
type Definition struct {
	name         string
	version      string
	description  string
	claimFields  []string
	instructions string
	prompt       *template.Template
	promptText   string
	hint         string
	hash         string
	reportType   reflect.Type
	rules        []Rule
}

// DefinitionSpec describes a Definition before it is compiled.
type DefinitionSpec struct {
	Name         string
	Version      string
	Description  string
	ClaimFields  []string
	Instructions string
	Prompt       string
	// Report is a zero value of the report struct, e.g. MarketReport{}.
	Report any
	Rules  []Rule
}

// NewDefinition compiles spec: parses the prompt, reflects the json schema
// hint and computes the content address.
func NewDefinition(spec DefinitionSpec) (*Definition, error) {
	if strings.TrimSpace(spec.Name) == "" || strings.TrimSpace(spec.Version) == "" {
		return nil, errors.New("schema name and version are required")
	}

	rt := reflect.TypeOf(spec.Report)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, errors.Errorf("schema %s report must be a struct value", spec.Name)
	}

	tpl, err := template.New(spec.Name).Option("missingkey=error").Parse(spec.Prompt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse prompt of schema %s", spec.Name)
	}

	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := reflector.Reflect(reflect.New(rt).Interface())
	s.Version = ""
	s.Title = spec.Name
	s.Description = spec.Description
	hint, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal json schema of %s", spec.Name)
	}

	d := &Definition{
		name:         spec.Name,
		version:      spec.Version,
		description:  spec.Description,
		claimFields:  append([]string(nil), spec.ClaimFields...),
		instructions: spec.Instructions,
		prompt:       tpl,
		promptText:   spec.Prompt,
		hint:         string(hint),
		reportType:   rt,
		rules:        append([]Rule(nil), spec.Rules...),
	}

	for _, f := range d.claimFields {
		if _, ok := d.fieldIndex()[f]; !ok {
			return nil, errors.Errorf("schema %s claim field %q is not a report field", spec.Name, f)
		}
	}

	sum := sha256.Sum256([]byte(d.instructions + "\x00" + d.promptText + "\x00" + d.version + "\x00" + d.hint))
	d.hash = hex.EncodeToString(sum[:])
	return d, nil
}

// Name returns the domain name.
func (d *Definition) Name() string { return d.name }

// Version returns the schema version.
func (d *Definition) Version() string { return d.version }

// Hash returns the content address of prompt, version and schema hint.
func (d *Definition) Hash() string { return d.hash }

// Hint returns the json schema shown to the model.
func (d *Definition) Hint() string { return d.hint }

// Instructions returns the system instructions of the prompt.
func (d *Definition) Instructions() string { return d.instructions }

// ClaimFields returns the fields that must be backed by a citation.
func (d *Definition) ClaimFields() []string {
	return append([]string(nil), d.claimFields...)
}

// Fields returns the top-level json field names, sorted.
func (d *Definition) Fields() []string {
	idx := d.fieldIndex()
	names := make([]string, 0, len(idx))
	for n := range idx {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PromptDocument is one numbered source document in the prompt.
type PromptDocument struct {
	Index   int
	Title   string
	URL     string
	Snippet string
}

// PromptInput fills a prompt template.
type PromptInput struct {
	Keyword     string
	Today       string
	Documents   []PromptDocument
	SchemaHint  string
	ClaimFields string
}

// Render fills the prompt template for keyword and documents.
func (d *Definition) Render(keyword string, now time.Time, docs []PromptDocument) (string, error) {
	var b strings.Builder
	err := d.prompt.Execute(&b, PromptInput{
		Keyword:     keyword,
		Today:       now.Format(DateLayout),
		Documents:   docs,
		SchemaHint:  d.hint,
		ClaimFields: strings.Join(d.claimFields, ", "),
	})
	if err != nil {
		return "", errors.Wrapf(err, "render prompt of schema %s", d.name)
	}
	return b.String(), nil
}

// fieldIndex maps json field names of the report to struct field indexes.
func (d *Definition) fieldIndex() map[string]int {
	idx := make(map[string]int, d.reportType.NumField())
	for i := 0; i < d.reportType.NumField(); i++ {
		if name := jsonName(d.reportType.Field(i)); name != "" {
			idx[name] = i
		}
	}
	return idx
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	default:
		return name
	}
}

// Registry is the immutable set of definitions loaded at startup.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry indexes definitions by name.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if d == nil {
			continue
		}
		if _, dup := r.defs[d.name]; dup {
			return nil, errors.Errorf("duplicate schema %q", d.name)
		}
		r.defs[d.name] = d
	}
	return r, nil
}

// Lookup returns the definition of domain.
func (r *Registry) Lookup(domain string) (*Definition, bool) {
	d, ok := r.defs[strings.ToLower(strings.TrimSpace(domain))]
	return d, ok
}

// Domains returns the registered domain names, sorted.
func (r *Registry) Domains() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
