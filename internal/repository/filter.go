package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

// filterSchema describes the source query filter: column names map to a
// scalar (equality), null, or an operator object; $and/$or combine filters.
const filterSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "scalar": {"type": ["string", "number", "boolean", "null"]},
    "ordered": {"type": ["string", "number"]},
    "list": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/scalar"}},
    "ops": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": false,
      "properties": {
        "$eq": {"$ref": "#/$defs/scalar"},
        "$ne": {"$ref": "#/$defs/scalar"},
        "$gt": {"$ref": "#/$defs/ordered"},
        "$gte": {"$ref": "#/$defs/ordered"},
        "$lt": {"$ref": "#/$defs/ordered"},
        "$lte": {"$ref": "#/$defs/ordered"},
        "$in": {"$ref": "#/$defs/list"},
        "$nin": {"$ref": "#/$defs/list"},
        "$exists": {"type": "boolean"}
      }
    },
    "filter": {
      "type": "object",
      "properties": {
        "$and": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/filter"}},
        "$or": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/filter"}}
      },
      "patternProperties": {
        "^[A-Za-z_][A-Za-z0-9_]{0,62}$": {
          "anyOf": [{"$ref": "#/$defs/scalar"}, {"$ref": "#/$defs/ops"}]
        }
      },
      "additionalProperties": false
    }
  },
  "$ref": "#/$defs/filter"
}`

var (
	filterSchemaOnce sync.Once
	filterSchemaC    *jsonschema.Schema
	filterSchemaErr  error
)

func compiledFilterSchema() (*jsonschema.Schema, error) {
	filterSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("filter.json", strings.NewReader(filterSchema)); err != nil {
			filterSchemaErr = fmt.Errorf("add filter schema: %w", err)
			return
		}
		filterSchemaC, filterSchemaErr = compiler.Compile("filter.json")
	})
	return filterSchemaC, filterSchemaErr
}

// ParseFilter validates a JSON source filter and compiles it into a SQL
// predicate. An empty or "{}" filter yields nil.
func ParseFilter(raw []byte) (*entsql.Predicate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	schema, err := compiledFilterSchema()
	if err != nil {
		return nil, err
	}

	var shape any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, common.NewAppError("INVALID_FILTER", "filter is not valid JSON", err)
	}
	if err := schema.Validate(shape); err != nil {
		return nil, common.NewAppError("INVALID_FILTER", "filter does not match schema", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, common.NewAppError("INVALID_FILTER", "decode filter", err)
	}
	return compileFilter(doc)
}

func compileFilter(doc map[string]any) (*entsql.Predicate, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []*entsql.Predicate
	for _, key := range keys {
		value := doc[key]
		switch key {
		case "$and", "$or":
			items, _ := value.([]any)
			subs := make([]*entsql.Predicate, 0, len(items))
			for _, item := range items {
				sub, err := compileFilter(item.(map[string]any))
				if err != nil {
					return nil, err
				}
				if sub != nil {
					subs = append(subs, sub)
				}
			}
			if len(subs) == 0 {
				continue
			}
			if key == "$and" {
				preds = append(preds, entsql.And(subs...))
			} else {
				preds = append(preds, entsql.Or(subs...))
			}
		default:
			if !common.IsIdentifier(key) {
				return nil, common.NewAppError("INVALID_FILTER", fmt.Sprintf("bad column %q", key), common.ErrInvalidInput)
			}
			p, err := compileColumn(key, value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return entsql.And(preds...), nil
	}
}

func compileColumn(col string, value any) (*entsql.Predicate, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		if value == nil {
			return entsql.IsNull(col), nil
		}
		return entsql.EQ(col, scalar(value)), nil
	}

	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	sort.Strings(names)

	var preds []*entsql.Predicate
	for _, op := range names {
		v := ops[op]
		switch op {
		case "$eq":
			if v == nil {
				preds = append(preds, entsql.IsNull(col))
			} else {
				preds = append(preds, entsql.EQ(col, scalar(v)))
			}
		case "$ne":
			if v == nil {
				preds = append(preds, entsql.NotNull(col))
			} else {
				preds = append(preds, entsql.NEQ(col, scalar(v)))
			}
		case "$gt":
			preds = append(preds, entsql.GT(col, scalar(v)))
		case "$gte":
			preds = append(preds, entsql.GTE(col, scalar(v)))
		case "$lt":
			preds = append(preds, entsql.LT(col, scalar(v)))
		case "$lte":
			preds = append(preds, entsql.LTE(col, scalar(v)))
		case "$in":
			preds = append(preds, entsql.In(col, scalars(v)...))
		case "$nin":
			preds = append(preds, entsql.NotIn(col, scalars(v)...))
		case "$exists":
			if v.(bool) {
				preds = append(preds, entsql.NotNull(col))
			} else {
				preds = append(preds, entsql.IsNull(col))
			}
		default:
			return nil, common.NewAppError("INVALID_FILTER", fmt.Sprintf("unsupported operator %q", op), common.ErrInvalidInput)
		}
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return entsql.And(preds...), nil
}

func scalars(v any) []any {
	items, _ := v.([]any)
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = scalar(item)
	}
	return out
}

// scalar converts json.Number into int64 when integral, float64 otherwise.
func scalar(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
