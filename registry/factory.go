package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// MethodKey derives the composite identity of the method a result belongs
// to: name(types), suffixed with @instance when the class has several
// instances.
func MethodKey(r *scheduler.Result) string {
	instance := -1
	if r.InstanceCount > 1 {
		instance = r.InstanceIndex
	}
	return types.MethodKey(r.Method.Name, r.Method.ParameterTypes, instance)
}

// CompositeKey derives the identity of a single invocation:
// name(types)_index@instance. The index suffix is always present so
// invocations without parameters never collide.
func CompositeKey(r *scheduler.Result) string {
	key := types.MethodKey(r.Method.Name, r.Method.ParameterTypes, -1) + "_" + strconv.Itoa(r.InvocationIndex)
	if r.InstanceCount > 1 {
		key += "@" + strconv.Itoa(r.InstanceIndex)
	}
	return key
}

// InvocationKey identifies the result object itself, preferring the
// scheduler's own result id over the composite key
func InvocationKey(r *scheduler.Result) string {
	if r.ID != "" {
		return r.ID
	}
	return CompositeKey(r)
}

// NewMethodNode builds a method node for a result below class. The shape is
// decided here once and never changes.
func NewMethodNode(class *types.Node, r *scheduler.Result) *types.Node {
	var name strings.Builder
	if len(r.Method.ParameterTypes) > 0 {
		name.WriteString(r.Method.Name + "(" + strings.Join(r.Method.ParameterTypes, ", ") + ")")
	} else {
		name.WriteString(r.Method.Name)
	}
	if r.FactoryIndex != nil {
		fmt.Fprintf(&name, "[%d]", *r.FactoryIndex)
	}
	if len(r.FactoryParameters) > 0 {
		name.WriteString("(" + strings.Join(r.FactoryParameters, ", ") + ")")
	}

	nodeType := types.NodeTypeTest
	if r.Method.ReportsInvocations() {
		nodeType = types.NodeTypeContainer
	}

	instance := -1
	if r.InstanceCount > 1 {
		instance = r.InstanceIndex
	}

	return &types.Node{
		ID:             class.ID.Append(types.KindMethod, MethodKey(r)),
		Kind:           types.KindMethod,
		Type:           nodeType,
		DisplayName:    name.String(),
		LegacyName:     class.ClassName + "#" + name.String(),
		Tags:           append([]string(nil), r.Method.Groups...),
		ClassName:      class.ClassName,
		MethodName:     r.Method.Name,
		ParameterTypes: append([]string(nil), r.Method.ParameterTypes...),
		InstanceIndex:  instance,
	}
}

// NewInvocationNode builds the index-th invocation below a container method
func NewInvocationNode(method *types.Node, r *scheduler.Result, index int) *types.Node {
	displayName := fmt.Sprintf("[%d]", index)
	if len(r.Parameters) > 0 {
		displayName = fmt.Sprintf("[%d] %s", index, strings.Join(r.Parameters, ", "))
	}
	return &types.Node{
		ID:              method.ID.Append(types.KindInvocation, strconv.Itoa(index)),
		Kind:            types.KindInvocation,
		Type:            types.NodeTypeTest,
		DisplayName:     displayName,
		LegacyName:      fmt.Sprintf("%s[%d]", method.LegacyName, index),
		Tags:            method.Tags,
		ClassName:       method.ClassName,
		MethodName:      method.MethodName,
		ParameterTypes:  method.ParameterTypes,
		InstanceIndex:   method.InstanceIndex,
		InvocationIndex: index,
		Parameters:      append([]string(nil), r.Parameters...),
	}
}
