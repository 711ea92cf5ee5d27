package paper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// shapeKind is the JSON type of an input value. Each facet parser switches
// on the kind and handles every legal variant explicitly.
type shapeKind int

const (
	shapeMissing shapeKind = iota
	shapeNull
	shapeBool
	shapeNumber
	shapeString
	shapeArray
	shapeObject
)

type member struct {
	key string
	val jsonShape
}

type jsonShape struct {
	kind shapeKind
	b    bool
	num  json.Number
	str  string
	arr  []jsonShape
	obj  []member
}

var errNotObject = errors.New("submission must be a JSON object")

// parseInput decodes a submission document, keeping object member order.
func parseInput(raw []byte) (jsonShape, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	s, err := decodeShape(dec)
	if err != nil {
		return jsonShape{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return jsonShape{}, errors.New("trailing data after JSON value")
	}
	if s.kind != shapeObject {
		return jsonShape{}, errNotObject
	}
	return s, nil
}

func decodeShape(dec *json.Decoder) (jsonShape, error) {
	tok, err := dec.Token()
	if err != nil {
		return jsonShape{}, err
	}
	switch t := tok.(type) {
	case nil:
		return jsonShape{kind: shapeNull}, nil
	case bool:
		return jsonShape{kind: shapeBool, b: t}, nil
	case json.Number:
		return jsonShape{kind: shapeNumber, num: t}, nil
	case string:
		return jsonShape{kind: shapeString, str: t}, nil
	case json.Delim:
		switch t {
		case '[':
			s := jsonShape{kind: shapeArray, arr: []jsonShape{}}
			for dec.More() {
				elem, err := decodeShape(dec)
				if err != nil {
					return jsonShape{}, err
				}
				s.arr = append(s.arr, elem)
			}
			_, err := dec.Token()
			return s, err
		case '{':
			s := jsonShape{kind: shapeObject, obj: []member{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return jsonShape{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return jsonShape{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeShape(dec)
				if err != nil {
					return jsonShape{}, err
				}
				s.obj = append(s.obj, member{key: key, val: val})
			}
			_, err := dec.Token()
			return s, err
		}
	}
	return jsonShape{}, fmt.Errorf("unexpected JSON token %v", tok)
}

func (s jsonShape) present() bool {
	return s.kind != shapeMissing
}

// get returns the last member named key, or a missing shape.
func (s jsonShape) get(key string) jsonShape {
	if s.kind != shapeObject {
		return jsonShape{}
	}
	for i := len(s.obj) - 1; i >= 0; i-- {
		if s.obj[i].key == key {
			return s.obj[i].val
		}
	}
	return jsonShape{}
}

// first returns the first present member among keys.
func (s jsonShape) first(keys ...string) (string, jsonShape) {
	for _, key := range keys {
		if v := s.get(key); v.present() {
			return key, v
		}
	}
	return "", jsonShape{}
}

// truthy follows the loose truth rules of form input: false, null, zero,
// "", "0" and empty containers are false.
func (s jsonShape) truthy() bool {
	switch s.kind {
	case shapeBool:
		return s.b
	case shapeNumber:
		f, err := s.num.Float64()
		return err == nil && f != 0
	case shapeString:
		return s.str != "" && s.str != "0"
	case shapeArray:
		return len(s.arr) > 0
	case shapeObject:
		return true
	}
	return false
}

func (s jsonShape) int64() (int64, bool) {
	if s.kind != shapeNumber {
		return 0, false
	}
	n, err := s.num.Int64()
	return n, err == nil
}

// friendlyBool accepts booleans, 0/1 and the usual yes/no words.
func (s jsonShape) friendlyBool() (bool, bool) {
	switch s.kind {
	case shapeBool:
		return s.b, true
	case shapeNumber:
		if n, ok := s.int64(); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	case shapeString:
		switch strings.ToLower(strings.TrimSpace(s.str)) {
		case "1", "yes", "y", "on", "true":
			return true, true
		case "0", "no", "n", "off", "false", "":
			return false, true
		}
	case shapeNull:
		return false, true
	}
	return false, false
}

// scalarKey renders a string or integer element as a lookup key.
func (s jsonShape) scalarKey() (string, bool) {
	switch s.kind {
	case shapeString:
		return s.str, true
	case shapeNumber:
		if n, ok := s.int64(); ok {
			return strconv.FormatInt(n, 10), true
		}
	}
	return "", false
}

// value converts the shape to the plain values encoding/json produces with
// UseNumber.
func (s jsonShape) value() any {
	switch s.kind {
	case shapeBool:
		return s.b
	case shapeNumber:
		return s.num
	case shapeString:
		return s.str
	case shapeArray:
		out := make([]any, len(s.arr))
		for i, elem := range s.arr {
			out[i] = elem.value()
		}
		return out
	case shapeObject:
		out := make(map[string]any, len(s.obj))
		for _, m := range s.obj {
			out[m.key] = m.val.value()
		}
		return out
	}
	return nil
}

// decodeInto re-encodes the shape and unmarshals it into dst.
func (s jsonShape) decodeInto(dst any) error {
	encoded, err := json.Marshal(s.value())
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, dst)
}
