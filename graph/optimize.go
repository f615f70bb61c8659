package graph

import (
	"fmt"
	"math/rand"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/field"
)

// Optimize runs the full optimization pipeline over the graph in its
// fixed order: tree-shake, constant propagation, probabilistic global
// value numbering, probabilistic constant detection, a second tree-shake
// and the Montgomery rewrite. outputs is renumbered in place; the
// compacted node slice is returned.
//
// The two probabilistic passes draw from a PRNG seeded with seed, so a
// build is reproducible for a fixed seed. Correctness does not depend on
// the seed: the collision probability over the 254-bit field is
// cryptographically small for graphs in scope.
func Optimize(nodes []Node, outputs []int, seed int64) ([]Node, error) {
	rng := rand.New(rand.NewSource(seed))

	nodes, err := TreeShake(nodes, outputs)
	if err != nil {
		return nil, err
	}
	if err := Propagate(nodes); err != nil {
		return nil, err
	}
	if err := ValueNumbering(nodes, outputs, rng); err != nil {
		return nil, err
	}
	if err := DetectConstants(nodes, rng); err != nil {
		return nil, err
	}
	nodes, err = TreeShake(nodes, outputs)
	if err != nil {
		return nil, err
	}
	if err := MontgomeryForm(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// markOperands sets used for every operand of n.
func markOperands(n Node, used []bool) {
	switch n.Kind {
	case KindOp:
		used[n.A] = true
		used[n.B] = true
	case KindUnoOp:
		used[n.A] = true
	case KindTresOp:
		used[n.A] = true
		used[n.B] = true
		used[n.C] = true
	}
}

// renumberOperands rewrites every operand of nodes[i] through f.
func renumberOperands(n *Node, f func(int) int) {
	switch n.Kind {
	case KindOp:
		n.A, n.B = f(n.A), f(n.B)
	case KindUnoOp:
		n.A = f(n.A)
	case KindTresOp:
		n.A, n.B, n.C = f(n.A), f(n.B), f(n.C)
	}
}

// TreeShake removes nodes not reachable from outputs and renumbers the
// surviving references. Reachability is a single backward sweep, which is
// sound because every edge points backwards.
func TreeShake(nodes []Node, outputs []int) ([]Node, error) {
	if err := AssertValid(nodes); err != nil {
		return nil, err
	}

	used := make([]bool, len(nodes))
	for _, o := range outputs {
		used[o] = true
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		if used[i] {
			markOperands(nodes[i], used)
		}
	}

	renumber := make([]int, len(nodes))
	kept := 0
	for i, u := range used {
		if u {
			nodes[kept] = nodes[i]
			renumber[i] = kept
			kept++
		} else {
			renumber[i] = -1
		}
	}
	removed := len(nodes) - kept
	nodes = nodes[:kept]

	for i := range nodes {
		renumberOperands(&nodes[i], func(k int) int { return renumber[k] })
	}
	for i, o := range outputs {
		outputs[i] = renumber[o]
	}

	log.Debugf("removed %d unused nodes", removed)
	return nodes, nil
}

// Propagate performs one forward constant-propagation pass: operations
// whose operands are all constant are folded, and binary comparisons of a
// node against itself collapse to their identity value.
func Propagate(nodes []Node) error {
	if err := AssertValid(nodes); err != nil {
		return err
	}

	isConst := func(i int) (*uint256.Int, bool) {
		if nodes[i].Kind == KindConstant {
			return &nodes[i].Const, true
		}
		return nil, false
	}

	folded := 0
	for i := range nodes {
		switch n := nodes[i]; n.Kind {
		case KindOp:
			va, oka := isConst(n.A)
			vb, okb := isConst(n.B)
			if oka && okb {
				nodes[i] = Constant(n.Op.Eval(va, vb))
				folded++
				continue
			}
			if n.A == n.B {
				// Not constant, but both operands are the same node.
				switch n.Op {
				case field.Eq, field.Leq, field.Geq:
					nodes[i] = Constant(*uint256.NewInt(1))
					folded++
				case field.Neq, field.Lt, field.Gt:
					nodes[i] = Constant(uint256.Int{})
					folded++
				}
			}
		case KindUnoOp:
			if va, ok := isConst(n.A); ok {
				nodes[i] = Constant(n.UOp.EvalUno(va))
				folded++
			}
		case KindTresOp:
			va, oka := isConst(n.A)
			vb, okb := isConst(n.B)
			vc, okc := isConst(n.C)
			if oka && okb && okc {
				nodes[i] = Constant(n.TOp.EvalTres(va, vb, vc))
				folded++
			}
		}
	}

	log.Debugf("propagated %d constants", folded)
	return nil
}

type duoKey struct {
	op   field.Op
	a, b uint256.Int
}

type unoKey struct {
	op field.UnoOp
	a  uint256.Int
}

type tresKey struct {
	op      field.TresOp
	a, b, c uint256.Int
}

// randomElement draws a uniformly-random canonical field element.
func randomElement(rng *rand.Rand) uint256.Int {
	var buf [32]byte
	rng.Read(buf[:])
	var v uint256.Int
	v.SetBytes(buf[:])
	m := field.Modulus()
	v.Mod(&v, m)
	return v
}

// randomEval evaluates the graph on random inputs in canonical form.
// Algebraic operators (Add, Sub, Mul) are evaluated semantically, so
// algebraically-equal subgraphs collide; by Schwartz-Zippel two equal
// values over a field this large are almost surely equal expressions.
// Inputs and every other operator are memoized pseudorandom functions
// keyed on the operator and its argument values, which keeps distinct
// non-algebraic nodes apart unless their arguments already collide.
func randomEval(nodes []Node, rng *rand.Rand) ([]uint256.Int, error) {
	values := make([]uint256.Int, len(nodes))
	inputs := make(map[int]uint256.Int)
	prfs := make(map[duoKey]uint256.Int)
	prfsUno := make(map[unoKey]uint256.Int)
	prfsTres := make(map[tresKey]uint256.Int)

	for i, n := range nodes {
		switch n.Kind {
		case KindConstant:
			values[i] = n.Const
		case KindMontConstant:
			return nil, fmt.Errorf("graph: node %d: Montgomery constant during optimization", i)
		case KindInput:
			v, ok := inputs[n.A]
			if !ok {
				v = randomElement(rng)
				inputs[n.A] = v
			}
			values[i] = v
		case KindOp:
			switch n.Op {
			case field.Add, field.Sub, field.Mul:
				values[i] = n.Op.Eval(&values[n.A], &values[n.B])
			default:
				k := duoKey{n.Op, values[n.A], values[n.B]}
				v, ok := prfs[k]
				if !ok {
					v = randomElement(rng)
					prfs[k] = v
				}
				values[i] = v
			}
		case KindUnoOp:
			k := unoKey{n.UOp, values[n.A]}
			v, ok := prfsUno[k]
			if !ok {
				v = randomElement(rng)
				prfsUno[k] = v
			}
			values[i] = v
		case KindTresOp:
			k := tresKey{n.TOp, values[n.A], values[n.B], values[n.C]}
			v, ok := prfsTres[k]
			if !ok {
				v = randomElement(rng)
				prfsTres[k] = v
			}
			values[i] = v
		default:
			return nil, fmt.Errorf("graph: unknown node kind %d", n.Kind)
		}
	}
	return values, nil
}

// ValueNumbering groups nodes by their value under a random evaluation
// and rewrites every reference to point at the lowest-indexed member of
// its group.
func ValueNumbering(nodes []Node, outputs []int, rng *rand.Rand) error {
	if err := AssertValid(nodes); err != nil {
		return err
	}

	values, err := randomEval(nodes, rng)
	if err != nil {
		return err
	}

	first := make(map[uint256.Int]int, len(values))
	renumber := make([]int, len(values))
	for i, v := range values {
		if j, ok := first[v]; ok {
			renumber[i] = j
		} else {
			first[v] = i
			renumber[i] = i
		}
	}

	for i := range nodes {
		renumberOperands(&nodes[i], func(k int) int { return renumber[k] })
	}
	for i, o := range outputs {
		outputs[i] = renumber[o]
	}

	log.Debug("global value numbering applied")
	return nil
}

// DetectConstants evaluates the graph on two independent random input
// vectors and rewrites every non-constant node whose value agrees across
// both runs into a constant.
func DetectConstants(nodes []Node, rng *rand.Rand) error {
	if err := AssertValid(nodes); err != nil {
		return err
	}

	valuesA, err := randomEval(nodes, rng)
	if err != nil {
		return err
	}
	valuesB, err := randomEval(nodes, rng)
	if err != nil {
		return err
	}

	found := 0
	for i := range nodes {
		if nodes[i].Kind == KindConstant {
			continue
		}
		if valuesA[i] == valuesB[i] {
			nodes[i] = Constant(valuesA[i])
			found++
		}
	}

	log.Debugf("found %d constants", found)
	return nil
}

// MontgomeryForm rewrites every canonical constant into Montgomery form
// and pins the operator universe of the final graph to the subset the
// Montgomery evaluator supports.
func MontgomeryForm(nodes []Node) error {
	for i := range nodes {
		switch n := nodes[i]; n.Kind {
		case KindConstant:
			nodes[i] = MontConstant(field.ToMont(&n.Const))
		case KindMontConstant, KindInput:
		case KindOp:
			switch n.Op {
			case field.Add, field.Sub, field.Mul, field.Shr, field.Band, field.Div, field.Neq:
			default:
				return fmt.Errorf("node %d: %w: %s", i, field.ErrMontgomeryOp, n.Op)
			}
		case KindUnoOp:
			if n.UOp != field.Neg {
				return fmt.Errorf("node %d: %w: %s", i, field.ErrMontgomeryOp, n.UOp)
			}
		case KindTresOp:
			if n.TOp != field.TernCond {
				return fmt.Errorf("node %d: %w: %s", i, field.ErrMontgomeryOp, n.TOp)
			}
		}
	}
	log.Debug("converted to Montgomery form")
	return nil
}
