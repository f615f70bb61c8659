package field

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// Op is a binary operator over field elements.
type Op uint8

const (
	Mul Op = iota
	Div
	Add
	Sub
	Pow
	IntDiv
	Mod
	Eq
	Neq
	Lt
	Gt
	Leq
	Geq
	Land
	Lor
	Shl
	Shr
	Bor
	Band
	Bxor

	opCount
)

// UnoOp is a unary operator.
type UnoOp uint8

const (
	Neg UnoOp = iota
	Id

	unoOpCount
)

// TresOp is a ternary operator.
type TresOp uint8

const (
	TernCond TresOp = iota

	tresOpCount
)

var opNames = [...]string{
	Mul: "Mul", Div: "Div", Add: "Add", Sub: "Sub", Pow: "Pow",
	IntDiv: "IntDiv", Mod: "Mod", Eq: "Eq", Neq: "Neq", Lt: "Lt",
	Gt: "Gt", Leq: "Leq", Geq: "Geq", Land: "Land", Lor: "Lor",
	Shl: "Shl", Shr: "Shr", Bor: "Bor", Band: "Band", Bxor: "Bxor",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Valid reports whether op is a known binary operator.
func (op Op) Valid() bool { return op < opCount }

func (op UnoOp) String() string {
	switch op {
	case Neg:
		return "Neg"
	case Id:
		return "Id"
	}
	return fmt.Sprintf("UnoOp(%d)", uint8(op))
}

// Valid reports whether op is a known unary operator.
func (op UnoOp) Valid() bool { return op < unoOpCount }

func (op TresOp) String() string {
	if op == TernCond {
		return "TernCond"
	}
	return fmt.Sprintf("TresOp(%d)", uint8(op))
}

// Valid reports whether op is a known ternary operator.
func (op TresOp) Valid() bool { return op < tresOpCount }

// ErrMontgomeryOp is returned when an operator outside the
// Montgomery-supported subset is evaluated in Montgomery form.
var ErrMontgomeryOp = errors.New("operator not supported in Montgomery form")

var (
	zero = uint256.NewInt(0)
	one  = uint256.NewInt(1)
)

func boolElem(b bool) uint256.Int {
	if b {
		return *one
	}
	return *zero
}

// Eval evaluates a binary operator on canonical field elements.
//
// Division by zero yields zero: the graph is simulating execution over a
// zero-initialized signal array, and an invalid witness is rejected
// downstream. Integer division and modulo follow the same rule. Shift
// counts are the right operand modulo 256.
func (op Op) Eval(a, b *uint256.Int) uint256.Int {
	var r uint256.Int
	switch op {
	case Add:
		r.AddMod(a, b, modulus)
	case Sub:
		var nb uint256.Int
		nb.Sub(modulus, b)
		r.AddMod(a, &nb, modulus)
	case Mul:
		r.MulMod(a, b, modulus)
	case Div:
		if b.IsZero() {
			return r
		}
		x, y := ToMont(a), ToMont(b)
		x.Div(&x, &y)
		return FromMont(&x)
	case Pow:
		var e fr.Element
		e.Exp(ToMont(a), b.ToBig())
		return FromMont(&e)
	case IntDiv:
		r.Div(a, b)
	case Mod:
		r.Mod(a, b)
	case Eq:
		return boolElem(a.Eq(b))
	case Neq:
		return boolElem(!a.Eq(b))
	case Lt:
		return boolElem(a.Lt(b))
	case Gt:
		return boolElem(a.Gt(b))
	case Leq:
		return boolElem(!a.Gt(b))
	case Geq:
		return boolElem(!a.Lt(b))
	case Land:
		return boolElem(!a.IsZero() && !b.IsZero())
	case Lor:
		return boolElem(!a.IsZero() || !b.IsZero())
	case Shl:
		r.Lsh(a, shiftCount(b))
	case Shr:
		r.Rsh(a, shiftCount(b))
	case Band:
		// Plain limb-wise AND, no modular reduction: the result of
		// ANDing two in-field values never exceeds either operand.
		r.And(a, b)
	case Bor:
		r.Or(a, b)
		reduceOnce(&r)
	case Bxor:
		r.Xor(a, b)
		reduceOnce(&r)
	default:
		panic(fmt.Sprintf("field: unknown binary operator %s", op))
	}
	return r
}

// shiftCount interprets the right shift operand modulo 256 as a plain
// bit count.
func shiftCount(b *uint256.Int) uint {
	return uint(b[0] & 0xff)
}

// EvalUno evaluates a unary operator on a canonical field element.
func (op UnoOp) EvalUno(a *uint256.Int) uint256.Int {
	switch op {
	case Neg:
		var r uint256.Int
		if !a.IsZero() {
			r.Sub(modulus, a)
		}
		return r
	case Id:
		return *a
	}
	panic(fmt.Sprintf("field: unknown unary operator %s", op))
}

// EvalTres evaluates a ternary operator on canonical field elements.
func (op TresOp) EvalTres(a, b, c *uint256.Int) uint256.Int {
	if op != TernCond {
		panic(fmt.Sprintf("field: unknown ternary operator %s", op))
	}
	if a.IsZero() {
		return *c
	}
	return *b
}

// EvalFr evaluates a binary operator on Montgomery-form elements.
// Only the closed post-optimization subset {Add, Sub, Mul, Shr, Band,
// Div, Neq} is defined; anything else is ErrMontgomeryOp.
func (op Op) EvalFr(a, b *fr.Element) (fr.Element, error) {
	var r fr.Element
	switch op {
	case Add:
		r.Add(a, b)
	case Sub:
		r.Sub(a, b)
	case Mul:
		r.Mul(a, b)
	case Shr:
		r = frShr(a, b)
	case Band:
		r = frBand(a, b)
	case Div:
		// Division by zero yields zero; the resulting witness is
		// rejected by the verifier downstream.
		if b.IsZero() {
			return r, nil
		}
		r.Div(a, b)
	case Neq:
		if !a.Equal(b) {
			r.SetOne()
		}
	default:
		return r, fmt.Errorf("%w: %s", ErrMontgomeryOp, op)
	}
	return r, nil
}

// EvalFrUno evaluates a unary operator on a Montgomery-form element.
func (op UnoOp) EvalFrUno(a *fr.Element) (fr.Element, error) {
	var r fr.Element
	if op != Neg {
		return r, fmt.Errorf("%w: %s", ErrMontgomeryOp, op)
	}
	r.Neg(a)
	return r, nil
}

// EvalFrTres evaluates a ternary operator on Montgomery-form elements.
func (op TresOp) EvalFrTres(a, b, c *fr.Element) (fr.Element, error) {
	if op != TernCond {
		return fr.Element{}, fmt.Errorf("%w: %s", ErrMontgomeryOp, op)
	}
	if a.IsZero() {
		return *c, nil
	}
	return *b, nil
}

// frShr right-shifts the canonical representative of a by b bits.
// Shift amounts of 254 or more produce zero.
func frShr(a, b *fr.Element) fr.Element {
	if b.IsZero() {
		return *a
	}
	var limit fr.Element
	limit.SetUint64(254)
	if b.Cmp(&limit) >= 0 {
		return fr.Element{}
	}
	n := uint(frToBig(b).Uint64())
	v := frToBig(a)
	v.Rsh(v, n)
	var r fr.Element
	r.SetBigInt(v)
	return r
}

// frBand ANDs the canonical 4x64-bit limb representations of a and b and
// reduces the result modulo p. Both operands are in-field, so the AND
// never exceeds the smaller of the two; the reduction is performed by
// SetBigInt for exactness.
func frBand(a, b *fr.Element) fr.Element {
	v := frToBig(a)
	v.And(v, frToBig(b))
	var r fr.Element
	r.SetBigInt(v)
	return r
}
