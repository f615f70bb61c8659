// Package graph defines the arithmetic computation graph produced by the
// circuit builder: the node variants, the append-only node array with its
// strict back-reference invariant, the optimization pipeline and the
// forward-pass evaluators.
package graph

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
)

// NodeKind discriminates the node variants.
type NodeKind uint8

const (
	// KindInput reads the i-th slot of the input-values buffer.
	KindInput NodeKind = iota
	// KindConstant carries a canonical field element.
	KindConstant
	// KindMontConstant carries a Montgomery-form element. Only produced
	// by the Montgomery rewrite pass and the graph decoder.
	KindMontConstant
	// KindUnoOp applies a unary operator to one earlier node.
	KindUnoOp
	// KindOp applies a binary operator to two earlier nodes.
	KindOp
	// KindTresOp applies a ternary operator to three earlier nodes.
	KindTresOp
)

// Node is one vertex of the computation graph. Operand indices A, B and C
// always point at strictly earlier positions in the node array, so a
// single forward pass evaluates the whole graph.
//
// Node is a plain comparable value; optimization passes rewrite entries
// in place and tests compare graphs with ==.
type Node struct {
	Kind NodeKind

	Op  field.Op
	UOp field.UnoOp
	TOp field.TresOp

	A, B, C int

	Const uint256.Int
	Mont  fr.Element
}

// Input returns an input node reading slot i of the input buffer.
func Input(i int) Node {
	return Node{Kind: KindInput, A: i}
}

// Constant returns a canonical constant node.
func Constant(v uint256.Int) Node {
	return Node{Kind: KindConstant, Const: v}
}

// MontConstant returns a Montgomery-form constant node.
func MontConstant(e fr.Element) Node {
	return Node{Kind: KindMontConstant, Mont: e}
}

// NewOp returns a binary operation node over nodes a and b.
func NewOp(op field.Op, a, b int) Node {
	return Node{Kind: KindOp, Op: op, A: a, B: b}
}

// NewUnoOp returns a unary operation node over node a.
func NewUnoOp(op field.UnoOp, a int) Node {
	return Node{Kind: KindUnoOp, UOp: op, A: a}
}

// NewTresOp returns a ternary operation node over nodes a, b and c.
func NewTresOp(op field.TresOp, a, b, c int) Node {
	return Node{Kind: KindTresOp, TOp: op, A: a, B: b, C: c}
}

func (n Node) String() string {
	switch n.Kind {
	case KindInput:
		return fmt.Sprintf("Input(%d)", n.A)
	case KindConstant:
		return fmt.Sprintf("Constant(%s)", n.Const.Dec())
	case KindMontConstant:
		return fmt.Sprintf("MontConstant(%s)", n.Mont.String())
	case KindUnoOp:
		return fmt.Sprintf("%s(%d)", n.UOp, n.A)
	case KindOp:
		return fmt.Sprintf("%s(%d, %d)", n.Op, n.A, n.B)
	case KindTresOp:
		return fmt.Sprintf("%s(%d, %d, %d)", n.TOp, n.A, n.B, n.C)
	}
	return fmt.Sprintf("Node(kind=%d)", n.Kind)
}

// SignalRange locates one named input inside the input-values buffer.
type SignalRange struct {
	Offset int
	Len    int
}

// InputsInfo maps input-signal names to their buffer ranges.
type InputsInfo = map[string]SignalRange

// AssertValid checks the back-reference invariant: every operand index of
// the node at position k is strictly less than k.
func AssertValid(nodes []Node) error {
	for i, n := range nodes {
		switch n.Kind {
		case KindOp:
			if n.A >= i || n.B >= i {
				return fmt.Errorf("graph: node %d (%s) has a forward reference", i, n)
			}
		case KindUnoOp:
			if n.A >= i {
				return fmt.Errorf("graph: node %d (%s) has a forward reference", i, n)
			}
		case KindTresOp:
			if n.A >= i || n.B >= i || n.C >= i {
				return fmt.Errorf("graph: node %d (%s) has a forward reference", i, n)
			}
		}
	}
	return nil
}

// InputsSize derives the size of the input-values buffer from the Input
// nodes in the graph's prefix: one slot past the highest referenced index.
func InputsSize(nodes []Node) int {
	maxIndex := 0
	start := false
	for _, n := range nodes {
		if n.Kind == KindInput {
			if n.A > maxIndex {
				maxIndex = n.A
			}
			start = true
		} else if start {
			break
		}
	}
	return maxIndex + 1
}
