package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidUniqueID is returned when a unique id string cannot be parsed
var ErrInvalidUniqueID = errors.New("invalid unique id")

// Segment is one typed element of a UniqueID
type Segment struct {
	Kind  NodeKind `json:"kind"`
	Value string   `json:"value"`
}

func (s Segment) String() string {
	return fmt.Sprintf("[%s:%s]", s.Kind, s.Value)
}

// UniqueID is the hierarchical identity of a node, ordered engine first
type UniqueID []Segment

// NewUniqueID returns the id of an engine root
func NewUniqueID(engineID string) UniqueID {
	return UniqueID{{Kind: KindEngine, Value: engineID}}
}

// Append returns a new id with one more segment. The receiver is not modified.
func (u UniqueID) Append(kind NodeKind, value string) UniqueID {
	out := make(UniqueID, len(u), len(u)+1)
	copy(out, u)
	return append(out, Segment{Kind: kind, Value: value})
}

// Last returns the final segment
func (u UniqueID) Last() Segment {
	if len(u) == 0 {
		return Segment{}
	}
	return u[len(u)-1]
}

// Parent returns the id without its final segment
func (u UniqueID) Parent() UniqueID {
	if len(u) <= 1 {
		return nil
	}
	return u[:len(u)-1]
}

// Find returns the value of the first segment of the given kind
func (u UniqueID) Find(kind NodeKind) (string, bool) {
	for _, s := range u {
		if s.Kind == kind {
			return s.Value, true
		}
	}
	return "", false
}

// Equal reports whether both ids have the same segments
func (u UniqueID) Equal(other UniqueID) bool {
	if len(u) != len(other) {
		return false
	}
	for i := range u {
		if u[i] != other[i] {
			return false
		}
	}
	return true
}

func (u UniqueID) String() string {
	parts := make([]string, len(u))
	for i, s := range u {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// MarshalText renders the id in its string form
func (u UniqueID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses the string form produced by MarshalText
func (u *UniqueID) UnmarshalText(text []byte) error {
	id, err := ParseUniqueID(string(text))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// ParseUniqueID parses "[engine:e]/[class:C]/[method:m(T)]/[invoc:0]"
func ParseUniqueID(s string) (UniqueID, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUniqueID, s)
	}
	raw := strings.Split(s[1:len(s)-1], "]/[")
	id := make(UniqueID, 0, len(raw))
	for _, part := range raw {
		kind, value, ok := strings.Cut(part, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("%w: malformed segment %q", ErrInvalidUniqueID, part)
		}
		id = append(id, Segment{Kind: NodeKind(kind), Value: value})
	}
	if id[0].Kind != KindEngine {
		return nil, fmt.Errorf("%w: %q does not start with an engine segment", ErrInvalidUniqueID, s)
	}
	return id, nil
}

// Selector names a single class, method or invocation the scheduler can run in isolation
type Selector struct {
	ClassName       string
	MethodName      string
	ParameterTypes  []string
	InstanceIndex   int
	InvocationIndex int
}

// HasMethod reports whether the selector narrows below class level
func (s Selector) HasMethod() bool {
	return s.MethodName != ""
}

// HasInvocation reports whether the selector names a single invocation
func (s Selector) HasInvocation() bool {
	return s.InvocationIndex >= 0
}

func (s Selector) String() string {
	out := s.ClassName
	if s.HasMethod() {
		out += "#" + s.MethodName + "(" + strings.Join(s.ParameterTypes, ",") + ")"
	}
	if s.InstanceIndex >= 0 {
		out += "@" + strconv.Itoa(s.InstanceIndex)
	}
	if s.HasInvocation() {
		out += "[" + strconv.Itoa(s.InvocationIndex) + "]"
	}
	return out
}

// SelectorFromID converts a node identity back into a scheduler selector
func SelectorFromID(id UniqueID) (Selector, error) {
	sel := Selector{InstanceIndex: -1, InvocationIndex: -1}
	for _, seg := range id {
		switch seg.Kind {
		case KindEngine:
		case KindClass:
			sel.ClassName = seg.Value
		case KindMethod:
			name, types, instance, err := ParseMethodKey(seg.Value)
			if err != nil {
				return Selector{}, err
			}
			sel.MethodName, sel.ParameterTypes, sel.InstanceIndex = name, types, instance
		case KindInvocation:
			idx, err := strconv.Atoi(seg.Value)
			if err != nil {
				return Selector{}, fmt.Errorf("%w: invocation index %q", ErrInvalidUniqueID, seg.Value)
			}
			sel.InvocationIndex = idx
		default:
			return Selector{}, fmt.Errorf("%w: unknown segment kind %q", ErrInvalidUniqueID, seg.Kind)
		}
	}
	if sel.ClassName == "" {
		return Selector{}, fmt.Errorf("%w: %s has no class segment", ErrInvalidUniqueID, id)
	}
	return sel, nil
}

// MethodKey renders the composite method identity name(T1,T2) with an
// optional @instance suffix. A negative instance index omits the suffix.
func MethodKey(name string, parameterTypes []string, instanceIndex int) string {
	key := name + "(" + strings.Join(parameterTypes, ",") + ")"
	if instanceIndex >= 0 {
		key += "@" + strconv.Itoa(instanceIndex)
	}
	return key
}

// ParseMethodKey is the inverse of MethodKey
func ParseMethodKey(key string) (name string, parameterTypes []string, instanceIndex int, err error) {
	instanceIndex = -1
	if at := strings.LastIndex(key, "@"); at > strings.LastIndex(key, ")") {
		instanceIndex, err = strconv.Atoi(key[at+1:])
		if err != nil {
			return "", nil, -1, fmt.Errorf("%w: instance index in %q", ErrInvalidUniqueID, key)
		}
		key = key[:at]
	}
	open := strings.Index(key, "(")
	if open <= 0 || !strings.HasSuffix(key, ")") {
		return "", nil, -1, fmt.Errorf("%w: method key %q", ErrInvalidUniqueID, key)
	}
	name = key[:open]
	if params := key[open+1 : len(key)-1]; params != "" {
		parameterTypes = strings.Split(params, ",")
	}
	return name, parameterTypes, instanceIndex, nil
}
