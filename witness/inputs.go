// Package witness turns a graph file and a JSON input assignment into
// the ordered witness: it decodes and validates the inputs, lays them
// out in the signal buffer and runs the graph's forward pass.
package witness

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
)

// ErrParseInput is returned for malformed input JSON: wrong document
// shape, a non-decimal string, a negative or fractional number, or a
// value outside the field.
var ErrParseInput = errors.New("invalid input")

// ErrInputShape is returned when a provided input's name or length
// disagrees with the circuit's input declarations.
var ErrInputShape = errors.New("input does not match circuit declaration")

// ParseInputs decodes an input JSON object into named field-element
// vectors. Accepted scalar shapes are base-10 strings and non-negative
// integer literals; values may be scalars or flat arrays of scalars.
func ParseInputs(data []byte) (map[string][]uint256.Int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseInput, err)
	}

	inputs := make(map[string][]uint256.Int, len(doc))
	for name, raw := range doc {
		vals, err := parseSignalValues(raw)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = vals
	}
	return inputs, nil
}

func parseSignalValues(raw json.RawMessage) ([]uint256.Int, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		vals := make([]uint256.Int, 0, len(arr))
		for _, el := range arr {
			v, err := parseScalar(el)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	}

	v, err := parseScalar(raw)
	if err != nil {
		return nil, err
	}
	return []uint256.Int{v}, nil
}

func parseScalar(raw json.RawMessage) (uint256.Int, error) {
	var zero uint256.Int

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return zero, fmt.Errorf("%w: %q is not a decimal value", ErrParseInput, s)
		}
		if !field.InField(v) {
			return zero, fmt.Errorf("%w: %q is not below the field modulus", ErrParseInput, s)
		}
		return *v, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		u, err := uint256.FromDecimal(n.String())
		if err != nil {
			return zero, fmt.Errorf("%w: %s is not a non-negative integer", ErrParseInput, n)
		}
		if !field.InField(u) {
			return zero, fmt.Errorf("%w: %s is not below the field modulus", ErrParseInput, n)
		}
		return *u, nil
	}

	return zero, fmt.Errorf("%w: value must be a decimal string or a non-negative integer", ErrParseInput)
}
