// Package field implements arithmetic over the BN254 scalar field in both
// canonical and Montgomery representations.
//
// Canonical values are carried in holiman/uint256 integers in [0, p);
// the one exception is Shl, whose result is not reduced and may exceed
// p. Montgomery values are gnark-crypto bn254 fr elements, which keep
// the Montgomery encoding internal. The two representations meet at the
// byte level: fr.Element.Bytes and uint256.Int.Bytes32 both produce the
// canonical big-endian 32-byte value.
package field

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// DecimalModulus is the BN254 scalar field modulus in base 10.
const DecimalModulus = "21888242871839275222246405745257275088548364400416034343698204186575808495617"

var modulus = uint256.MustFromDecimal(DecimalModulus)

// Modulus returns a copy of the field modulus p.
func Modulus() *uint256.Int {
	m := *modulus
	return &m
}

// InField reports whether v is a canonical field element, i.e. v < p.
func InField(v *uint256.Int) bool {
	return v.Lt(modulus)
}

// ToMont converts a canonical value to a Montgomery-form element.
// Values >= p are reduced.
func ToMont(v *uint256.Int) fr.Element {
	var e fr.Element
	b := v.Bytes32()
	e.SetBytes(b[:])
	return e
}

// FromMont converts a Montgomery-form element back to its canonical value.
func FromMont(e *fr.Element) uint256.Int {
	b := e.Bytes()
	var v uint256.Int
	v.SetBytes32(b[:])
	return v
}

// reduceOnce subtracts p from v if v >= p. Used after bitwise operations
// whose raw result may exceed the modulus but never reaches 2p.
func reduceOnce(v *uint256.Int) {
	if !v.Lt(modulus) {
		v.Sub(v, modulus)
	}
}

// frToBig returns the canonical integer value of a Montgomery element.
func frToBig(e *fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}
