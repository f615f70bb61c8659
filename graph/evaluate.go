package graph

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
)

// Evaluate walks the node array once in Montgomery form and projects the
// requested output nodes back to canonical field elements. inputs holds
// canonical values; position 0 is expected to carry the constant 1.
func Evaluate(nodes []Node, inputs []uint256.Int, outputs []int) ([]uint256.Int, error) {
	values := make([]fr.Element, len(nodes))
	for i, n := range nodes {
		var err error
		switch n.Kind {
		case KindConstant:
			values[i] = field.ToMont(&n.Const)
		case KindMontConstant:
			values[i] = n.Mont
		case KindInput:
			values[i] = field.ToMont(&inputs[n.A])
		case KindOp:
			values[i], err = n.Op.EvalFr(&values[n.A], &values[n.B])
		case KindUnoOp:
			values[i], err = n.UOp.EvalFrUno(&values[n.A])
		case KindTresOp:
			values[i], err = n.TOp.EvalFrTres(&values[n.A], &values[n.B], &values[n.C])
		default:
			err = fmt.Errorf("graph: unknown node kind %d", n.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("evaluating node %d: %w", i, err)
		}
	}

	out := make([]uint256.Int, len(outputs))
	for i, o := range outputs {
		out[i] = field.FromMont(&values[o])
	}
	return out, nil
}

// EvaluateCanonical walks the node array in canonical form. It is used
// for the unoptimized-graph dump and by tests that cross-check the
// Montgomery evaluator; MontConstant nodes are not expected here.
func EvaluateCanonical(nodes []Node, inputs []uint256.Int, outputs []int) ([]uint256.Int, error) {
	values, err := CanonicalValues(nodes, inputs)
	if err != nil {
		return nil, err
	}
	out := make([]uint256.Int, len(outputs))
	for i, o := range outputs {
		out[i] = values[o]
	}
	return out, nil
}

// CanonicalValues evaluates every node in canonical form and returns the
// whole value array, one entry per node.
func CanonicalValues(nodes []Node, inputs []uint256.Int) ([]uint256.Int, error) {
	values := make([]uint256.Int, len(nodes))
	for i, n := range nodes {
		switch n.Kind {
		case KindConstant:
			values[i] = n.Const
		case KindMontConstant:
			return nil, fmt.Errorf("graph: node %d: no Montgomery constant expected in canonical evaluation", i)
		case KindInput:
			values[i] = inputs[n.A]
		case KindOp:
			values[i] = n.Op.Eval(&values[n.A], &values[n.B])
		case KindUnoOp:
			values[i] = n.UOp.EvalUno(&values[n.A])
		case KindTresOp:
			values[i] = n.TOp.EvalTres(&values[n.A], &values[n.B], &values[n.C])
		default:
			return nil, fmt.Errorf("graph: unknown node kind %d", n.Kind)
		}
	}
	return values, nil
}
