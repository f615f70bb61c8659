package builder

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Errors surfaced for interpreter invariant violations. Each one is fatal
// for the build; the wrapping chain carries the template/function call
// stack.
var (
	// ErrNotConstant marks an index expression that required a graph
	// node to evaluate. All indexes must fold at compile time.
	ErrNotConstant = errors.New("expression is not a constant")
	// ErrTooLarge marks a constant index that does not fit the host int.
	ErrTooLarge = errors.New("value is too large for an index")
	// ErrSignalNotSet marks a load from a signal with no node yet.
	ErrSignalNotSet = errors.New("signal is not set yet")
	// ErrSignalSet marks a second store to the same signal.
	ErrSignalSet = errors.New("signal is already set")
	// ErrVariableNotSet marks a load from an unset local variable.
	ErrVariableNotSet = errors.New("variable is not set yet")
	// ErrNonConstantCondition marks a loop or branch condition that did
	// not fold, outside the ternary store pattern.
	ErrNonConstantCondition = errors.New("condition is not constant")
	// ErrUnsupported marks an IR shape the interpreter does not accept.
	ErrUnsupported = errors.New("unsupported instruction")
)

type varKind uint8

const (
	unsetVar varKind = iota
	valueVar
	nodeVar
)

// Var is a compile-time value threaded through the interpreter: either a
// true constant, or a handle to a graph node that was required to
// evaluate the expression (because it read a signal). The zero Var is
// unset.
type Var struct {
	kind  varKind
	node  int
	value uint256.Int
}

// ValueVar wraps a compile-time constant.
func ValueVar(v uint256.Int) Var {
	return Var{kind: valueVar, value: v}
}

// NodeVar wraps a graph node index.
func NodeVar(i int) Var {
	return Var{kind: nodeVar, node: i}
}

// IsValue reports whether v is a compile-time constant.
func (v Var) IsValue() bool { return v.kind == valueVar }

// IsNode reports whether v is a graph node handle.
func (v Var) IsNode() bool { return v.kind == nodeVar }

// isSet reports whether v holds anything at all.
func (v Var) isSet() bool { return v.kind != unsetVar }

func (v Var) String() string {
	switch v.kind {
	case valueVar:
		return fmt.Sprintf("Value(%s)", v.value.Dec())
	case nodeVar:
		return fmt.Sprintf("Node(%d)", v.node)
	}
	return "unset"
}

// index reduces a Var to a host-sized non-negative index. A Var that is
// a node handle cannot index anything; that is the canonical
// "index is not constant" failure.
func (v Var) index() (int, error) {
	if v.kind != valueVar {
		return 0, fmt.Errorf("%w: %s", ErrNotConstant, v)
	}
	if !v.value.IsUint64() || v.value.Uint64() > math.MaxInt {
		return 0, fmt.Errorf("%w: %s", ErrTooLarge, v.value.Dec())
	}
	return int(v.value.Uint64()), nil
}
