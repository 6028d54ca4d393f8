package docdb

import "fmt"

// SchemaValidator is the default Validator: it enforces declared field
// types, required fields, and rejects undeclared fields. Hosting
// applications with richer rules supply their own Validator.
type SchemaValidator struct{}

func (SchemaValidator) Validate(schema *TableSchema, raw map[string]any) (map[string]any, []FieldError) {
	var errs []FieldError
	out := make(map[string]any, len(raw))

	for name, v := range raw {
		fd, ok := schema.Field(name)
		if !ok {
			errs = append(errs, FieldError{Field: name, Message: "unknown field"})
			continue
		}
		nv, err := coerceField(fd, v)
		if err != nil {
			errs = append(errs, FieldError{Field: name, Message: err.Error()})
			continue
		}
		out[name] = nv
	}

	for _, fd := range schema.Fields {
		if !fd.Required {
			continue
		}
		if v, ok := out[fd.Name]; !ok || v == nil {
			errs = append(errs, FieldError{Field: fd.Name, Message: "required"})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func coerceField(fd FieldDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch fd.Type {
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
		return nil, fmt.Errorf("expected int, got %T", v)
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected float, got %T", v)
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	default:
		return v, nil
	}
}
