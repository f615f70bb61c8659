package builder

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
)

// duoOps maps front-end binary operator codes to graph operators.
// The address operators are absent on purpose: they are compile-time
// only and never become nodes.
var duoOps = map[ir.OperatorType]field.Op{
	ir.OpMul:       field.Mul,
	ir.OpDiv:       field.Div,
	ir.OpAdd:       field.Add,
	ir.OpSub:       field.Sub,
	ir.OpPow:       field.Pow,
	ir.OpIntDiv:    field.IntDiv,
	ir.OpMod:       field.Mod,
	ir.OpShiftL:    field.Shl,
	ir.OpShiftR:    field.Shr,
	ir.OpLesserEq:  field.Leq,
	ir.OpGreaterEq: field.Geq,
	ir.OpLesser:    field.Lt,
	ir.OpGreater:   field.Gt,
	ir.OpEq:        field.Eq,
	ir.OpNotEq:     field.Neq,
	ir.OpBoolOr:    field.Lor,
	ir.OpBoolAnd:   field.Land,
	ir.OpBitOr:     field.Bor,
	ir.OpBitAnd:    field.Band,
	ir.OpBitXor:    field.Bxor,
}

// compute folds an operator application. The result stays a compile-time
// value as long as every operand does; the moment an operand is a node,
// the whole expression is promoted into the graph.
func (s *scope) compute(b ir.ComputeBucket) (Var, error) {
	switch b.Op {
	case ir.OpPrefixSub, ir.OpToAddress:
		if len(b.Stack) != 1 {
			return Var{}, fmt.Errorf("builder: unary %v with %d operands", b.Op, len(b.Stack))
		}
		return s.computeUnary(b.Op, b.Stack[0])
	}
	if len(b.Stack) != 2 {
		return Var{}, fmt.Errorf("builder: binary operator with %d operands", len(b.Stack))
	}
	return s.computeBinary(b.Op, b.Stack[0], b.Stack[1])
}

func (s *scope) computeUnary(op ir.OperatorType, arg ir.Instruction) (Var, error) {
	a, err := s.calcExpression(arg)
	if err != nil {
		return Var{}, err
	}

	if a.IsValue() {
		switch op {
		case ir.OpToAddress:
			return a, nil
		case ir.OpPrefixSub:
			return ValueVar(field.Neg.EvalUno(&a.value)), nil
		}
		return Var{}, fmt.Errorf("%w: unary operator %v", ErrUnsupported, op)
	}

	switch op {
	case ir.OpPrefixSub:
		return NodeVar(s.ctx.pushNode(graph.NewUnoOp(field.Neg, a.node))), nil
	case ir.OpToAddress:
		return Var{}, fmt.Errorf("%w: address of a runtime value", ErrNotConstant)
	}
	return Var{}, fmt.Errorf("%w: unary operator %v", ErrUnsupported, op)
}

func (s *scope) computeBinary(op ir.OperatorType, lhs, rhs ir.Instruction) (Var, error) {
	a, err := s.calcExpression(lhs)
	if err != nil {
		return Var{}, err
	}
	b, err := s.calcExpression(rhs)
	if err != nil {
		return Var{}, err
	}

	if a.IsValue() && b.IsValue() {
		switch op {
		case ir.OpMulAddress:
			var r uint256.Int
			r.Mul(&a.value, &b.value)
			return ValueVar(r), nil
		case ir.OpAddAddress:
			var r uint256.Int
			r.Add(&a.value, &b.value)
			return ValueVar(r), nil
		}
		fieldOp, ok := duoOps[op]
		if !ok {
			return Var{}, fmt.Errorf("%w: binary operator %v", ErrUnsupported, op)
		}
		return ValueVar(fieldOp.Eval(&a.value, &b.value)), nil
	}

	fieldOp, ok := duoOps[op]
	if !ok {
		// Address arithmetic on a runtime value cannot resolve.
		return Var{}, fmt.Errorf("%w: operator %v on a runtime value", ErrNotConstant, op)
	}
	na, err := s.varToNode(a)
	if err != nil {
		return Var{}, err
	}
	nb, err := s.varToNode(b)
	if err != nil {
		return Var{}, err
	}
	return NodeVar(s.ctx.pushNode(graph.NewOp(fieldOp, na, nb))), nil
}
