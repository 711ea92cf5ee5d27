package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Value is one stored row for an option: an integer plus optional text.
// Document options store the document id in Value.
type Value struct {
	Value int64
	Data  string
}

var ErrDocumentValue = errors.New("document option values are resolved as documents")

var friendlyBools = map[string]bool{
	"1": true, "yes": true, "y": true, "on": true, "true": true,
	"0": false, "no": false, "n": false, "off": false, "false": false, "": false,
}

// Parse converts one imported JSON value, decoded with UseNumber, into the
// stored rows. An empty result clears the option.
func (o Option) Parse(v any) ([]Value, error) {
	if v == nil {
		return nil, nil
	}
	switch o.Type {
	case TypeCheckbox:
		return parseCheckbox(v)
	case TypeNumeric:
		return parseNumeric(v)
	case TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("Expected text.")
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, nil
		}
		return []Value{{Value: 1, Data: s}}, nil
	case TypeSelector:
		return o.parseSelector(v)
	case TypeDocument:
		return nil, ErrDocumentValue
	}
	return nil, fmt.Errorf("unsupported option type %q", o.Type)
}

func parseCheckbox(v any) ([]Value, error) {
	var on bool
	switch t := v.(type) {
	case bool:
		on = t
	case json.Number:
		n, err := t.Int64()
		if err != nil || (n != 0 && n != 1) {
			return nil, errors.New("Expected true or false.")
		}
		on = n == 1
	case string:
		b, ok := friendlyBools[strings.ToLower(strings.TrimSpace(t))]
		if !ok {
			return nil, errors.New("Expected true or false.")
		}
		on = b
	default:
		return nil, errors.New("Expected true or false.")
	}
	if !on {
		return nil, nil
	}
	return []Value{{Value: 1}}, nil
}

func parseNumeric(v any) ([]Value, error) {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
		if raw == "" {
			return nil, nil
		}
	default:
		return nil, errors.New("Expected an integer.")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New("Expected an integer.")
	}
	return []Value{{Value: n}}, nil
}

func (o Option) parseSelector(v any) ([]Value, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil || n < 1 || int(n) > len(o.Choices) {
			return nil, fmt.Errorf("Expected a choice between 1 and %d.", len(o.Choices))
		}
		return []Value{{Value: n}}, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		for i, choice := range o.Choices {
			if strings.EqualFold(choice, s) {
				return []Value{{Value: int64(i + 1)}}, nil
			}
		}
		return nil, fmt.Errorf("“%s” is not a valid choice.", s)
	}
	return nil, errors.New("Expected a choice.")
}

// Export renders stored rows back to import form. ok is false when the
// option has no value and should be omitted.
func (o Option) Export(values []Value) (v any, ok bool) {
	if len(values) == 0 {
		return nil, false
	}
	first := values[0]
	switch o.Type {
	case TypeCheckbox:
		return first.Value != 0, first.Value != 0
	case TypeNumeric:
		return first.Value, true
	case TypeText:
		return first.Data, first.Data != ""
	case TypeSelector:
		if first.Value >= 1 && int(first.Value) <= len(o.Choices) {
			return o.Choices[first.Value-1], true
		}
		return first.Value, true
	}
	return nil, false
}

// Equal compares stored rows semantically.
func Equal(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
