package ast

import (
	"fmt"
	"math/big"
	"strings"
)

// TypeKind defines the kind of a Type.
type TypeKind int

// Type kinds enum
const (
	TYPE_INTEGER TypeKind = iota
	TYPE_FIELD
	TYPE_GROUP
	TYPE_SCALAR
	TYPE_BOOL
	TYPE_ADDRESS
	TYPE_UNIT
	TYPE_TUPLE
	TYPE_ARRAY
	TYPE_STRUCT
	TYPE_MAPPING
	TYPE_UNTYPED
)

// Type represents a type in the Lumen type system. Scalar-kinded types are
// shared singletons (TypeU32 etc.); composite types are built per use.
type Type struct {
	Kind   TypeKind
	Name   string
	Bits   int  // integer width
	Signed bool // integer signedness
	Base   *Type
	Size   int     // array length, fixed after type checking
	Elems  []*Type // tuple element types
	Fields []StructField
	Key    *Type // mapping key
	Value  *Type // mapping value
}

// StructField is one member of a struct or record type.
type StructField struct {
	Name string
	Type *Type
}

// Mode classifies how a value enters or leaves a function.
type Mode int

const (
	ModePrivate Mode = iota
	ModePublic
	ModeConstant
)

func (m Mode) String() string {
	switch m {
	case ModePublic:
		return "public"
	case ModeConstant:
		return "constant"
	default:
		return "private"
	}
}

// Pre-defined types
var (
	TypeU8      = &Type{Kind: TYPE_INTEGER, Name: "u8", Bits: 8}
	TypeU16     = &Type{Kind: TYPE_INTEGER, Name: "u16", Bits: 16}
	TypeU32     = &Type{Kind: TYPE_INTEGER, Name: "u32", Bits: 32}
	TypeU64     = &Type{Kind: TYPE_INTEGER, Name: "u64", Bits: 64}
	TypeU128    = &Type{Kind: TYPE_INTEGER, Name: "u128", Bits: 128}
	TypeI8      = &Type{Kind: TYPE_INTEGER, Name: "i8", Bits: 8, Signed: true}
	TypeI16     = &Type{Kind: TYPE_INTEGER, Name: "i16", Bits: 16, Signed: true}
	TypeI32     = &Type{Kind: TYPE_INTEGER, Name: "i32", Bits: 32, Signed: true}
	TypeI64     = &Type{Kind: TYPE_INTEGER, Name: "i64", Bits: 64, Signed: true}
	TypeI128    = &Type{Kind: TYPE_INTEGER, Name: "i128", Bits: 128, Signed: true}
	TypeField   = &Type{Kind: TYPE_FIELD, Name: "field"}
	TypeGroup   = &Type{Kind: TYPE_GROUP, Name: "group"}
	TypeScalar  = &Type{Kind: TYPE_SCALAR, Name: "scalar"}
	TypeBool    = &Type{Kind: TYPE_BOOL, Name: "bool"}
	TypeAddress = &Type{Kind: TYPE_ADDRESS, Name: "address"}
	TypeUnit    = &Type{Kind: TYPE_UNIT, Name: "()"}
	TypeUntyped = &Type{Kind: TYPE_UNTYPED, Name: "untyped"}
)

var integerTypes = map[string]*Type{
	"u8": TypeU8, "u16": TypeU16, "u32": TypeU32, "u64": TypeU64, "u128": TypeU128,
	"i8": TypeI8, "i16": TypeI16, "i32": TypeI32, "i64": TypeI64, "i128": TypeI128,
}

// IntegerTypeByName resolves an integer type name like "u32".
func IntegerTypeByName(name string) *Type { return integerTypes[name] }

// NamedType resolves the name of any non-composite type.
func NamedType(name string) *Type {
	if t, ok := integerTypes[name]; ok {
		return t
	}
	switch name {
	case "field":
		return TypeField
	case "group":
		return TypeGroup
	case "scalar":
		return TypeScalar
	case "bool":
		return TypeBool
	case "address":
		return TypeAddress
	case "()":
		return TypeUnit
	}
	return nil
}

func NewTupleType(elems []*Type) *Type { return &Type{Kind: TYPE_TUPLE, Elems: elems} }

func NewArrayType(base *Type, size int) *Type {
	return &Type{Kind: TYPE_ARRAY, Base: base, Size: size}
}

func NewStructType(name string, fields []StructField) *Type {
	return &Type{Kind: TYPE_STRUCT, Name: name, Fields: fields}
}

func NewMappingType(key, value *Type) *Type {
	return &Type{Kind: TYPE_MAPPING, Key: key, Value: value}
}

// IsScalarKind reports whether a type lowers to a single circuit register.
func (t *Type) IsScalarKind() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TYPE_INTEGER, TYPE_FIELD, TYPE_GROUP, TYPE_SCALAR, TYPE_BOOL, TYPE_ADDRESS:
		return true
	}
	return false
}

// IsComposite reports whether destructuring applies to values of this type.
func (t *Type) IsComposite() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TYPE_TUPLE, TYPE_STRUCT, TYPE_ARRAY:
		return true
	}
	return false
}

func (t *Type) IsInteger() bool { return t != nil && t.Kind == TYPE_INTEGER }

// FitsInteger reports whether v lies within this integer type's range.
func (t *Type) FitsInteger(v *big.Int) bool {
	if !t.IsInteger() || v == nil {
		return false
	}
	bits := uint(t.Bits)
	if t.Signed {
		max := new(big.Int).Lsh(big.NewInt(1), bits-1)
		min := new(big.Int).Neg(max)
		max.Sub(max, big.NewInt(1))
		return v.Cmp(min) >= 0 && v.Cmp(max) <= 0
	}
	if v.Sign() < 0 {
		return false
	}
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	max.Sub(max, big.NewInt(1))
	return v.Cmp(max) <= 0
}
func (t *Type) IsBool() bool { return t != nil && t.Kind == TYPE_BOOL }

// TypesEqual compares two types structurally. Struct types compare by name;
// the type checker guarantees one definition per name.
func TypesEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TYPE_INTEGER:
		return a.Bits == b.Bits && a.Signed == b.Signed
	case TYPE_TUPLE:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !TypesEqual(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case TYPE_ARRAY:
		return a.Size == b.Size && TypesEqual(a.Base, b.Base)
	case TYPE_STRUCT:
		return a.Name == b.Name
	case TYPE_MAPPING:
		return TypesEqual(a.Key, b.Key) && TypesEqual(a.Value, b.Value)
	}
	return true
}

// TypeToString renders a type the way source code spells it.
func TypeToString(t *Type) string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TYPE_TUPLE:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = TypeToString(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TYPE_ARRAY:
		return fmt.Sprintf("[%s; %d]", TypeToString(t.Base), t.Size)
	case TYPE_MAPPING:
		return fmt.Sprintf("mapping(%s => %s)", TypeToString(t.Key), TypeToString(t.Value))
	}
	return t.Name
}
