package msgrpc

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

type valueKind uint8

const (
	kindNil valueKind = iota
	kindBool
	kindInt
	kindUint
	kindFloat
	kindString
	kindBinary
	kindArray
	kindMap
)

// Value is one request argument, a tagged variant over the protocol's value
// types. The zero Value encodes as nil.
type Value struct {
	kind  valueKind
	num   uint64
	str   string
	bin   []byte
	list  []Value
	pairs []Pair
}

// Pair is one entry of a string-keyed map value.
type Pair struct {
	Key string
	Val Value
}

func Nil() Value { return Value{kind: kindNil} }

func Bool(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: kindBool, num: n}
}

func Int(v int64) Value { return Value{kind: kindInt, num: uint64(v)} }

func Uint(v uint64) Value { return Value{kind: kindUint, num: v} }

func Float(v float64) Value { return Value{kind: kindFloat, num: math.Float64bits(v)} }

func String(v string) Value { return Value{kind: kindString, str: v} }

func Binary(v []byte) Value { return Value{kind: kindBinary, bin: v} }

func Array(items ...Value) Value { return Value{kind: kindArray, list: items} }

func Map(pairs ...Pair) Value { return Value{kind: kindMap, pairs: pairs} }

func Entry(key string, val Value) Pair { return Pair{Key: key, Val: val} }

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.kind {
	case kindNil:
		return enc.EncodeNil()
	case kindBool:
		return enc.EncodeBool(v.num != 0)
	case kindInt:
		return enc.EncodeInt(int64(v.num))
	case kindUint:
		return enc.EncodeUint(v.num)
	case kindFloat:
		return enc.EncodeFloat64(math.Float64frombits(v.num))
	case kindString:
		return enc.EncodeString(v.str)
	case kindBinary:
		return enc.EncodeBytes(v.bin)
	case kindArray:
		if err := enc.EncodeArrayLen(len(v.list)); err != nil {
			return err
		}
		for _, item := range v.list {
			if err := encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case kindMap:
		if err := enc.EncodeMapLen(len(v.pairs)); err != nil {
			return err
		}
		for _, pair := range v.pairs {
			if err := enc.EncodeString(pair.Key); err != nil {
				return err
			}
			if err := encodeValue(enc, pair.Val); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("msgrpc: unknown value kind %d", v.kind)
	}
}

// FromAny converts a JSON-shaped value (nil, bool, float64, string, []any,
// map[string]any, plus Go integer types) into a Value. It backs the generic
// call surface where arguments arrive as decoded JSON.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Uint(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Binary(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			value, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, value)
		}
		return Array(items...), nil
	case map[string]any:
		pairs := make([]Pair, 0, len(t))
		for key, item := range t {
			value, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, Entry(key, value))
		}
		return Map(pairs...), nil
	default:
		return Value{}, fmt.Errorf("msgrpc: unsupported argument type %T", v)
	}
}

// Args builds an ordered, heterogeneous request argument list.
type Args struct {
	items []Value
}

func NewArgs() *Args { return &Args{} }

func (a *Args) Nil() *Args { return a.Add(Nil()) }

func (a *Args) Bool(v bool) *Args { return a.Add(Bool(v)) }

func (a *Args) Int(v int64) *Args { return a.Add(Int(v)) }

func (a *Args) Uint(v uint64) *Args { return a.Add(Uint(v)) }

func (a *Args) Float(v float64) *Args { return a.Add(Float(v)) }

func (a *Args) String(v string) *Args { return a.Add(String(v)) }

func (a *Args) Binary(v []byte) *Args { return a.Add(Binary(v)) }

func (a *Args) Array(items ...Value) *Args { return a.Add(Array(items...)) }

func (a *Args) Map(pairs ...Pair) *Args { return a.Add(Map(pairs...)) }

func (a *Args) Add(values ...Value) *Args {
	a.items = append(a.items, values...)
	return a
}

func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// Values returns the accumulated argument list. A nil receiver is an empty
// list, so callers can pass nil for zero-argument requests.
func (a *Args) Values() []Value {
	if a == nil {
		return nil
	}
	return a.items
}
