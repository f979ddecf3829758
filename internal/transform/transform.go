// Package transform implements the Transformer (C4): per-mapping value
// conversion between the data types carried on either side of a route,
// JSON-schema validation for DataTypeJSON payloads, and jsonpath-based
// field extraction for mappings that only forward part of a JSON value.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/xeipuuv/gojsonschema"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// Transformer converts a raw value observed on one side into the
// representation expected on the other, per the mapping's DataType and
// optional jsonpath Transform expression.
type Transformer struct {
	schemas map[string]*gojsonschema.Schema
}

func New() *Transformer {
	return &Transformer{schemas: map[string]*gojsonschema.Schema{}}
}

// RegisterSchema associates a JSON schema (as a JSON document) with a
// mapping id, validated whenever that mapping carries DataTypeJSON.
func (t *Transformer) RegisterSchema(mappingID string, schemaJSON []byte) error {
	loader := gojsonschema.NewBytesLoader(schemaJSON)
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("compile schema for mapping %s: %w", mappingID, err)
	}
	t.schemas[mappingID] = s
	return nil
}

// Convert applies the mapping's declared DataType and optional jsonpath
// Transform expression to raw, returning the value ready to hand to the
// destination adapter.
func (t *Transformer) Convert(mappingID string, raw json.RawMessage, dt message.DataType, transformExpr string) (json.RawMessage, error) {
	value := raw
	if transformExpr != "" {
		extracted, err := t.applyJSONPath(raw, transformExpr)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: jsonpath transform: %w", mappingID, err)
		}
		value = extracted
	}

	switch dt {
	case message.DataTypeJSON:
		if s, ok := t.schemas[mappingID]; ok {
			res, err := s.Validate(gojsonschema.NewBytesLoader(value))
			if err != nil {
				return nil, fmt.Errorf("mapping %s: schema validation: %w", mappingID, err)
			}
			if !res.Valid() {
				return nil, fmt.Errorf("mapping %s: payload violates schema: %s", mappingID, describeErrors(res))
			}
		}
		return value, nil

	case message.DataTypeBoolean:
		return normalizeBool(value)
	case message.DataTypeInt32:
		return normalizeInt(value)
	case message.DataTypeFloat, message.DataTypeDouble:
		return normalizeFloat(value)
	case message.DataTypeString:
		return normalizeString(value)
	case message.DataTypeDateTime:
		return normalizeDateTime(value)
	default:
		return value, nil
	}
}

func describeErrors(res *gojsonschema.Result) string {
	var sb strings.Builder
	for i, e := range res.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}

func (t *Transformer) applyJSONPath(raw json.RawMessage, expr string) (json.RawMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	result, err := jsonpath.Get(expr, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return json.Marshal(result)
}

func normalizeBool(raw json.RawMessage) (json.RawMessage, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to Boolean: %w", s, err)
		}
		return json.Marshal(parsed)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return json.Marshal(n != 0)
	}
	return nil, fmt.Errorf("cannot convert %s to Boolean", raw)
}

func normalizeInt(raw json.RawMessage) (json.RawMessage, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return json.Marshal(int32(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to Int32: %w", s, err)
		}
		return json.Marshal(int32(parsed))
	}
	return nil, fmt.Errorf("cannot convert %s to Int32", raw)
}

func normalizeFloat(raw json.RawMessage) (json.RawMessage, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to Float: %w", s, err)
		}
		return json.Marshal(parsed)
	}
	return nil, fmt.Errorf("cannot convert %s to Float", raw)
}

func normalizeString(raw json.RawMessage) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return raw, nil
	}
	// Any non-string JSON scalar round-trips to its textual form.
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("cannot convert %s to String: %w", raw, err)
	}
	switch val := v.(type) {
	case float64:
		return json.Marshal(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		return json.Marshal(strconv.FormatBool(val))
	default:
		return json.Marshal(fmt.Sprintf("%v", val))
	}
}

func normalizeDateTime(raw json.RawMessage) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("DateTime value must be a JSON string: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return nil, fmt.Errorf("cannot convert %q to DateTime (RFC3339 required): %w", s, err)
	}
	return raw, nil
}
