package message

import (
	"bytes"
	"fmt"
)

// Kind enumerates the value shapes that can cross the wire.
// The set is closed on purpose: the codec never instantiates arbitrary types.
type Kind uint8

const (
	KindNil    Kind = 0
	KindString Kind = 1
	KindBytes  Kind = 2
	KindInt    Kind = 3
	KindList   Kind = 4
	KindMap    Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a tagged union over Kind. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind             `codec:"k" json:"k"`
	Str   string           `codec:"s,omitempty" json:"s,omitempty"`
	Bytes []byte           `codec:"b,omitempty" json:"b,omitempty"`
	Int   int64            `codec:"i,omitempty" json:"i,omitempty"`
	List  []Value          `codec:"l,omitempty" json:"l,omitempty"`
	Map   map[string]Value `codec:"m,omitempty" json:"m,omitempty"`
}

func Nil() Value { return Value{Kind: KindNil} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }
func List(vs ...Value) Value { return Value{Kind: KindList, List: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// Strings wraps a string slice as a list of string values.
func Strings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return List(vs...)
}

func (v Value) IsNil() bool {
	return v.Kind == KindNil
}

func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.Str, nil
}

func (v Value) AsBytes() ([]byte, error) {
	if v.Kind != KindBytes {
		return nil, v.mismatch(KindBytes)
	}
	return v.Bytes, nil
}

func (v Value) AsInt() (int64, error) {
	if v.Kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.Int, nil
}

func (v Value) AsList() ([]Value, error) {
	if v.Kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return v.List, nil
}

func (v Value) AsMap() (map[string]Value, error) {
	if v.Kind != KindMap {
		return nil, v.mismatch(KindMap)
	}
	return v.Map, nil
}

// AsStrings unwraps a list whose elements are all strings.
func (v Value) AsStrings() ([]string, error) {
	list, err := v.AsList()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, err := item.AsString()
		if err != nil {
			return nil, Errorf(InvalidArgument, "element %d: %s", i, err.(*RemoteError).Message)
		}
		out = append(out, s)
	}
	return out, nil
}

func (v Value) mismatch(want Kind) *RemoteError {
	return Errorf(InvalidArgument, "expected %s value, got %s", want, v.Kind)
}

// Equal compares two values semantically. Nil and empty collections compare equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindInt:
		return v.Int == o.Int
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, item := range v.Map {
			other, ok := o.Map[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.List))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.Map))
	}
	return v.Kind.String()
}
