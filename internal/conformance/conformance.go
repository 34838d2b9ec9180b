// File: internal/conformance/conformance.go

// Package conformance validates runtime response bodies against JSON
// Schemas and fingerprints contract documents so drift detection can tell
// "the spec moved" from "the runtime moved".
package conformance

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// schemaResourceURL anchors compiled schemas; the document never leaves
// memory, the URL only names the resource for the compiler.
const schemaResourceURL = "https://qoegate.local/schemas/response.schema.json"

// Mismatch is one schema violation found in a response body.
type Mismatch struct {
	Path       string      `json:"path"`
	Message    string      `json:"message"`
	SchemaPath string      `json:"schema_path,omitempty"`
	Value      interface{} `json:"value,omitempty"`
}

// Result reports a validation pass over one body.
type Result struct {
	Valid      bool       `json:"valid"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	SchemaUsed string     `json:"schema_used,omitempty"`
}

// Validator holds one compiled schema. Safe for concurrent use.
type Validator struct {
	logger *zap.Logger
	schema *jsonschema.Schema
}

// NewValidator compiles a Draft 2020-12 JSON Schema from its source text.
func NewValidator(logger *zap.Logger, schemaJSON string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaResourceURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("loading response schema: %w", err)
	}
	schema, err := compiler.Compile(schemaResourceURL)
	if err != nil {
		return nil, fmt.Errorf("compiling response schema: %w", err)
	}
	return &Validator{logger: logger.Named("conformance"), schema: schema}, nil
}

// ValidateResponse checks a decoded body against the compiled schema and
// flattens the validation error tree into per-path mismatches.
func (v *Validator) ValidateResponse(body interface{}) Result {
	err := v.schema.Validate(body)
	if err == nil {
		return Result{Valid: true}
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Result{Mismatches: []Mismatch{{Path: "$", Message: err.Error()}}}
	}

	var mismatches []Mismatch
	collectLeafCauses(ve, body, &mismatches)
	v.logger.Debug("response failed schema validation", zap.Int("mismatches", len(mismatches)))
	return Result{Valid: false, Mismatches: mismatches}
}

// collectLeafCauses walks to the leaves of the error tree; intermediate
// nodes only restate which subschema failed.
func collectLeafCauses(ve *jsonschema.ValidationError, body interface{}, out *[]Mismatch) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Mismatch{
			Path:       formatPointer(ve.InstanceLocation),
			Message:    ve.Message,
			SchemaPath: formatPointer(ve.KeywordLocation),
			Value:      instanceValue(body, ve.InstanceLocation),
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeafCauses(cause, body, out)
	}
}

// ValidateWithStatus picks a schema by HTTP status code and validates the
// body against it: exact code first, then "default", then the first 2xx
// key (sorted) when the code itself is a 2xx. No matching schema means the
// body is accepted as-is.
func ValidateWithStatus(logger *zap.Logger, body interface{}, statusCode int, schemas map[string]string) (Result, error) {
	key := selectSchemaKey(statusCode, schemas)
	if key == "" {
		return Result{Valid: true}, nil
	}

	validator, err := NewValidator(logger, schemas[key])
	if err != nil {
		return Result{}, fmt.Errorf("schema for status %q: %w", key, err)
	}
	result := validator.ValidateResponse(body)
	result.SchemaUsed = key
	return result, nil
}

func selectSchemaKey(statusCode int, schemas map[string]string) string {
	if len(schemas) == 0 {
		return ""
	}
	exact := strconv.Itoa(statusCode)
	if _, ok := schemas[exact]; ok {
		return exact
	}
	if _, ok := schemas["default"]; ok {
		return "default"
	}
	if statusCode >= 200 && statusCode < 300 {
		keys := make([]string, 0, len(schemas))
		for key := range schemas {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if strings.HasPrefix(key, "2") {
				return key
			}
		}
	}
	return ""
}

// SpecFingerprint canonicalizes a JSON document per RFC 8785 and hashes it,
// so semantically identical specs always fingerprint the same.
func SpecFingerprint(doc []byte) (string, error) {
	canonical, err := jcs.Transform(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalizing spec: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// formatPointer rewrites a JSON pointer into the $-rooted path grammar the
// rest of the gate speaks: /a/0/b becomes $.a[0].b.
func formatPointer(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "$"
	}

	var b strings.Builder
	b.WriteString("$")
	for _, segment := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		if isIndexSegment(segment) {
			b.WriteString("[")
			b.WriteString(segment)
			b.WriteString("]")
		} else {
			b.WriteString(".")
			b.WriteString(segment)
		}
	}
	return b.String()
}

func isIndexSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// instanceValue resolves the value a JSON pointer addresses inside the
// body, for mismatch reporting. Unresolvable pointers yield nil.
func instanceValue(body interface{}, pointer string) interface{} {
	if pointer == "" {
		return body
	}
	current := body
	for _, segment := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		switch node := current.(type) {
		case map[string]interface{}:
			child, ok := node[segment]
			if !ok {
				return nil
			}
			current = child
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}
