// Package gql synthesizes a GraphQL schema from a reflected catalog. Types,
// inputs, filters, connections, and aggregates are generated per table; no
// part of the schema is hand-declared.
package gql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// Custom GraphQL scalar types for PostgreSQL data types

// dateTimeLayouts are the accepted input formats, tried in order. Output is
// always RFC3339.
var dateTimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339,
}

// ParseDateTime parses a date/time string in any accepted layout
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date/time format: %q", s)
}

// DateTimeScalar serializes timestamps as RFC3339 and accepts date-only,
// space-separated, and RFC3339 input forms.
var DateTimeScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "DateTime",
	Description: "DateTime scalar type represents a date and time in RFC3339 format",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case time.Time:
			return v.Format(time.RFC3339)
		case *time.Time:
			if v == nil {
				return nil
			}
			return v.Format(time.RFC3339)
		case string:
			return v
		default:
			return nil
		}
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case string:
			t, err := ParseDateTime(v)
			if err != nil {
				return nil
			}
			return t
		case time.Time:
			return v
		default:
			return nil
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			t, err := ParseDateTime(v.Value)
			if err != nil {
				return nil
			}
			return t
		default:
			return nil
		}
	},
})

// UUIDScalar for uuid columns
var UUIDScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "UUID",
	Description: "UUID scalar type represents a universally unique identifier",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case uuid.UUID:
			return v.String()
		case *uuid.UUID:
			if v == nil {
				return nil
			}
			return v.String()
		case string:
			return v
		case [16]byte:
			return uuid.UUID(v).String()
		case []byte:
			if len(v) == 16 {
				u, err := uuid.FromBytes(v)
				if err == nil {
					return u.String()
				}
			}
			return string(v)
		default:
			return fmt.Sprintf("%v", v)
		}
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case string:
			u, err := uuid.Parse(v)
			if err != nil {
				return nil
			}
			return u
		default:
			return nil
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			u, err := uuid.Parse(v.Value)
			if err != nil {
				return nil
			}
			return u
		default:
			return nil
		}
	},
})

// JSONScalar for jsonb/json columns. Objects and lists pass through as
// structured values; strings are accepted as JSON text and decoded.
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "JSON scalar type represents arbitrary JSON data",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case map[string]interface{}:
			return v
		case []interface{}:
			return v
		case string:
			var result interface{}
			if err := json.Unmarshal([]byte(v), &result); err != nil {
				return v
			}
			return result
		case []byte:
			var result interface{}
			if err := json.Unmarshal(v, &result); err != nil {
				return string(v)
			}
			return result
		default:
			return v
		}
	},
	ParseValue: func(value interface{}) interface{} {
		if s, ok := value.(string); ok {
			var result interface{}
			if err := json.Unmarshal([]byte(s), &result); err != nil {
				return s
			}
			return result
		}
		return value
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			var result interface{}
			if err := json.Unmarshal([]byte(v.Value), &result); err != nil {
				return v.Value
			}
			return result
		case *ast.ObjectValue:
			return parseObjectValue(v)
		case *ast.ListValue:
			return parseListValue(v)
		default:
			return nil
		}
	},
})

// BigIntScalar for bigint columns (represented as string to avoid JS precision issues)
var BigIntScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "BigInt",
	Description: "BigInt scalar type represents large integers as strings",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case int64:
			return strconv.FormatInt(v, 10)
		case *int64:
			if v == nil {
				return nil
			}
			return strconv.FormatInt(*v, 10)
		case int:
			return strconv.Itoa(v)
		case string:
			return v
		default:
			return fmt.Sprintf("%v", v)
		}
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil
			}
			return n
		case int:
			return int64(v)
		case float64:
			return int64(v)
		default:
			return nil
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			n, err := strconv.ParseInt(v.Value, 10, 64)
			if err != nil {
				return nil
			}
			return n
		case *ast.IntValue:
			n, err := strconv.ParseInt(v.Value, 10, 64)
			if err != nil {
				return nil
			}
			return n
		default:
			return nil
		}
	},
})

// DecimalScalar for numeric/decimal columns. Values stay string-encoded end
// to end so arbitrary precision survives the trip through JSON.
var DecimalScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Decimal",
	Description: "Decimal scalar type represents arbitrary-precision numbers as strings",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		default:
			return fmt.Sprintf("%v", v)
		}
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case string:
			if !isValidDecimal(v) {
				return nil
			}
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		default:
			return nil
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			if !isValidDecimal(v.Value) {
				return nil
			}
			return v.Value
		case *ast.IntValue:
			return v.Value
		case *ast.FloatValue:
			return v.Value
		default:
			return nil
		}
	},
})

// isValidDecimal checks that a string is a plain decimal number
func isValidDecimal(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Helper functions for parsing AST values
func parseObjectValue(v *ast.ObjectValue) map[string]interface{} {
	result := make(map[string]interface{})
	for _, field := range v.Fields {
		result[field.Name.Value] = parseASTValue(field.Value)
	}
	return result
}

func parseListValue(v *ast.ListValue) []interface{} {
	result := make([]interface{}, len(v.Values))
	for i, val := range v.Values {
		result[i] = parseASTValue(val)
	}
	return result
}

func parseASTValue(v ast.Value) interface{} {
	switch val := v.(type) {
	case *ast.StringValue:
		return val.Value
	case *ast.IntValue:
		n, _ := strconv.ParseInt(val.Value, 10, 64)
		return n
	case *ast.FloatValue:
		f, _ := strconv.ParseFloat(val.Value, 64)
		return f
	case *ast.BooleanValue:
		return val.Value
	case *ast.ObjectValue:
		return parseObjectValue(val)
	case *ast.ListValue:
		return parseListValue(val)
	default:
		// Covers null literals, variables, and enum values
		return nil
	}
}
