package sqlgen

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
)

// CoerceValue converts a bound value to the driver type matching the target
// column. Scalar inputs that already passed GraphQL coercion come through
// typed; cursor payloads and JSON variables arrive as strings. Failures are
// validation errors, never silent truncation.
func CoerceValue(col catalog.Column, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if col.IsArray() {
		list, ok := value.([]interface{})
		if !ok {
			return nil, database.NewValidationError("column %q expects an array value", col.Name)
		}
		kind := gql.ClassifyType(col.ElementType)
		return coerceList(kind, col.Name, list)
	}
	return coerceKind(gql.ClassifyType(col.DataType), col.Name, value)
}

func coerceKind(kind gql.ScalarKind, column string, value interface{}) (interface{}, error) {
	switch kind {
	case gql.KindUUID:
		switch v := value.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			u, err := uuid.Parse(v)
			if err != nil {
				return nil, database.NewValidationError("invalid UUID for column %q: %q", column, v)
			}
			return u, nil
		}
	case gql.KindInt, gql.KindBigInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, database.NewValidationError("invalid integer for column %q: %q", column, v)
			}
			return n, nil
		}
	case gql.KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, database.NewValidationError("invalid number for column %q: %q", column, v)
			}
			return f, nil
		}
	case gql.KindDecimal:
		// Decimals bind as strings so precision survives
		switch v := value.(type) {
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return nil, database.NewValidationError("invalid decimal for column %q: %q", column, v)
			}
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		}
	case gql.KindBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, database.NewValidationError("invalid boolean for column %q: %q", column, v)
			}
			return b, nil
		}
	case gql.KindDateTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := gql.ParseDateTime(v)
			if err != nil {
				return nil, database.NewValidationError("invalid date/time for column %q: %q", column, v)
			}
			return t, nil
		}
	case gql.KindJSON:
		return value, nil
	default:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return value, nil
	}
	return nil, database.NewValidationError("cannot coerce %T for column %q", value, column)
}

// coerceList produces a homogeneously typed slice so the driver encodes it
// as a proper array parameter.
func coerceList(kind gql.ScalarKind, column string, values []interface{}) (interface{}, error) {
	switch kind {
	case gql.KindUUID:
		out := make([]uuid.UUID, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			out = append(out, c.(uuid.UUID))
		}
		return out, nil
	case gql.KindInt, gql.KindBigInt:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			out = append(out, c.(int64))
		}
		return out, nil
	case gql.KindFloat:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			out = append(out, c.(float64))
		}
		return out, nil
	case gql.KindBoolean:
		out := make([]bool, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			out = append(out, c.(bool))
		}
		return out, nil
	case gql.KindDateTime:
		out := make([]time.Time, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			out = append(out, c.(time.Time))
		}
		return out, nil
	default:
		out := make([]string, 0, len(values))
		for _, v := range values {
			c, err := coerceKind(kind, column, v)
			if err != nil {
				return nil, err
			}
			s, ok := c.(string)
			if !ok {
				return nil, database.NewValidationError("invalid value in list for column %q", column)
			}
			out = append(out, s)
		}
		return out, nil
	}
}
