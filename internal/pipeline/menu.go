// File: internal/pipeline/menu.go
// Brief: Configuration menus: typed casting, defaults, required checks.

package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType is the declared type of one configuration parameter.
type ValueType string

const (
	TypeBool   ValueType = "bool"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "string"
	TypeList   ValueType = "list"
)

// MenuItem declares one configuration parameter: its name, help text,
// declared type, optional default, and optional value choices. A nil
// Default marks the parameter required.
type MenuItem struct {
	Name    string
	Msg     string
	Type    ValueType
	Default any
	Choices []string
}

// Menu is an ordered set of parameters.
type Menu []MenuItem

// commonMenu is prepended to every package's menu so that all packages
// share the common parameter set without redeclaring it.
func commonMenu() Menu {
	return Menu{
		{Name: "interceptors", Msg: "Interceptor package names applied before start", Type: TypeList, Default: []string{}},
		{Name: "sleep", Msg: "Seconds to sleep after start", Type: TypeInt, Default: 0},
		{Name: "do_dbg", Msg: "Launch under a debug server", Type: TypeBool, Default: false},
		{Name: "dbg_port", Msg: "Debug server port", Type: TypeInt, Default: 1234},
		{Name: "deploy_mode", Msg: "Installation/execution variant", Type: TypeString, Default: "default"},
		{Name: "timeout", Msg: "Operation timeout in seconds", Type: TypeInt, Default: 300},
		{Name: "hide_output", Msg: "Hide command output", Type: TypeBool, Default: false},
	}
}

func (m Menu) find(name string) *MenuItem {
	for i := range m {
		if m[i].Name == name {
			return &m[i]
		}
	}
	return nil
}

// Cast converts raw option values to their declared types. Unknown keys and
// uncastable values fail with a ConfigValidationError before any side
// effect.
func (m Menu) Cast(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for key, val := range raw {
		item := m.find(key)
		if item == nil {
			return nil, &ConfigValidationError{Field: key, Reason: "unknown parameter"}
		}
		cast, err := castValue(item.Type, val)
		if err != nil {
			return nil, &ConfigValidationError{Field: key, Reason: err.Error()}
		}
		if len(item.Choices) > 0 {
			if s, ok := cast.(string); ok && !contains(item.Choices, s) {
				return nil, &ConfigValidationError{
					Field:  key,
					Reason: fmt.Sprintf("value %q not among %v", s, item.Choices),
				}
			}
		}
		out[key] = cast
	}
	return out, nil
}

// ApplyDefaults fills config with defaults for parameters it does not carry.
func (m Menu) ApplyDefaults(config map[string]any) {
	for _, item := range m {
		if item.Default == nil {
			continue
		}
		if _, ok := config[item.Name]; !ok {
			config[item.Name] = item.Default
		}
	}
}

// CheckRequired verifies that every no-default parameter has a value.
func (m Menu) CheckRequired(config map[string]any) error {
	var missing []string
	for _, item := range m {
		if item.Default != nil {
			continue
		}
		if v, ok := config[item.Name]; !ok || v == nil {
			missing = append(missing, item.Name)
		}
	}
	if len(missing) > 0 {
		return &ConfigValidationError{
			Field:  strings.Join(missing, ", "),
			Reason: "required parameter not set",
		}
	}
	return nil
}

func castValue(t ValueType, val any) (any, error) {
	switch t {
	case TypeBool:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to bool", v)
			}
			return b, nil
		}
	case TypeInt:
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
			return nil, fmt.Errorf("cannot cast %v to int", v)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to int", v)
			}
			return n, nil
		}
	case TypeFloat:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to float", v)
			}
			return f, nil
		}
	case TypeString:
		switch v := val.(type) {
		case string:
			return v, nil
		case bool, int, int64, float64:
			return fmt.Sprintf("%v", v), nil
		}
	case TypeList:
		switch v := val.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("list element %v is not a string", item)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			if strings.TrimSpace(v) == "" {
				return []string{}, nil
			}
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts, nil
		}
	default:
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
	return nil, fmt.Errorf("cannot cast %T to %s", val, t)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
