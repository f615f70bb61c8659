package storage

import (
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/user-none/witnesscalc/field"
	"github.com/user-none/witnesscalc/graph"
)

// The on-disk node stream is a sequence of protobuf messages:
//
//	message BigUInt           { bytes value_le = 1; }
//	message InputNode         { uint32 idx = 1; }
//	message ConstantNode      { BigUInt value = 1; }
//	message UnoOpNode         { UnoOp op = 1; uint32 a_idx = 2; }
//	message DuoOpNode         { DuoOp op = 1; uint32 a_idx = 2; uint32 b_idx = 3; }
//	message TresOpNode        { TresOp op = 1; uint32 a_idx = 2; uint32 b_idx = 3; uint32 c_idx = 4; }
//	message Node { oneof node {
//	    InputNode input = 1; ConstantNode constant = 2; UnoOpNode uno_op = 3;
//	    DuoOpNode duo_op = 4; TresOpNode tres_op = 5; } }
//	message SignalDescription { uint32 offset = 1; uint32 len = 2; }
//	message GraphMetadata {
//	    repeated uint32 witness_signals = 1;
//	    map<string, SignalDescription> inputs = 2; }
//
// The operator enums correspond one to one to the field package's
// operator values. Constant nodes carry the canonical little-endian
// bytes of a Montgomery-form element: serialization happens only after
// the Montgomery rewrite, and plain canonical constants are refused.

const (
	nodeFieldInput  = 1
	nodeFieldConst  = 2
	nodeFieldUnoOp  = 3
	nodeFieldDuoOp  = 4
	nodeFieldTresOp = 5
)

// appendMessage appends a length-delimited submessage field.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendUintField appends a varint field, omitting the proto3 default.
func appendUintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// montBytesLE returns the canonical value of a Montgomery element as a
// minimal little-endian byte string.
func montBytesLE(e *fr.Element) []byte {
	be := e.Bytes()
	out := make([]byte, 0, len(be))
	for i := len(be) - 1; i >= 0; i-- {
		out = append(out, be[i])
	}
	for len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	return out
}

func montFromBytesLE(le []byte) (fr.Element, error) {
	var e fr.Element
	if len(le) > 32 {
		return e, fmt.Errorf("%w: constant of %d bytes", ErrGraphFormat, len(le))
	}
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	e.SetBytes(be)
	return e, nil
}

func encodeNode(n graph.Node) ([]byte, error) {
	switch n.Kind {
	case graph.KindInput:
		inner := appendUintField(nil, 1, uint64(n.A))
		return appendMessage(nil, nodeFieldInput, inner), nil

	case graph.KindMontConstant:
		value := n.Mont
		big := protowire.AppendTag(nil, 1, protowire.BytesType)
		big = protowire.AppendBytes(big, montBytesLE(&value))
		inner := appendMessage(nil, 1, big)
		return appendMessage(nil, nodeFieldConst, inner), nil

	case graph.KindConstant:
		return nil, fmt.Errorf("storage: canonical constant in serialized graph; run the Montgomery rewrite first")

	case graph.KindUnoOp:
		inner := appendUintField(nil, 1, uint64(n.UOp))
		inner = appendUintField(inner, 2, uint64(n.A))
		return appendMessage(nil, nodeFieldUnoOp, inner), nil

	case graph.KindOp:
		inner := appendUintField(nil, 1, uint64(n.Op))
		inner = appendUintField(inner, 2, uint64(n.A))
		inner = appendUintField(inner, 3, uint64(n.B))
		return appendMessage(nil, nodeFieldDuoOp, inner), nil

	case graph.KindTresOp:
		inner := appendUintField(nil, 1, uint64(n.TOp))
		inner = appendUintField(inner, 2, uint64(n.A))
		inner = appendUintField(inner, 3, uint64(n.B))
		inner = appendUintField(inner, 4, uint64(n.C))
		return appendMessage(nil, nodeFieldTresOp, inner), nil
	}
	return nil, fmt.Errorf("storage: unknown node kind %d", n.Kind)
}

// scanFields walks a message's fields, handing each (number, type,
// payload) to f. Varint payloads arrive as the value itself; bytes
// payloads as the raw slice.
func scanFields(msg []byte, f func(num protowire.Number, typ protowire.Type, v uint64, b []byte) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrGraphFormat, protowire.ParseError(n))
		}
		msg = msg[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrGraphFormat, protowire.ParseError(n))
			}
			msg = msg[n:]
			if err := f(num, typ, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrGraphFormat, protowire.ParseError(n))
			}
			msg = msg[n:]
			if err := f(num, typ, 0, b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected wire type %d", ErrGraphFormat, typ)
		}
	}
	return nil
}

func decodeNode(msg []byte) (graph.Node, error) {
	var node graph.Node
	seen := false

	err := scanFields(msg, func(num protowire.Number, typ protowire.Type, _ uint64, b []byte) error {
		if typ != protowire.BytesType {
			return fmt.Errorf("%w: node variant with wire type %d", ErrGraphFormat, typ)
		}
		if seen {
			return fmt.Errorf("%w: node with multiple variants", ErrGraphFormat)
		}
		seen = true

		switch num {
		case nodeFieldInput:
			idx, err := decodeUintFields(b, 1)
			if err != nil {
				return err
			}
			node = graph.Input(int(idx[0]))
			return nil
		case nodeFieldConst:
			return decodeConstantNode(b, &node)
		case nodeFieldUnoOp:
			vs, err := decodeUintFields(b, 2)
			if err != nil {
				return err
			}
			op := field.UnoOp(vs[0])
			if !op.Valid() {
				return fmt.Errorf("%w: unknown unary operator %d", ErrGraphFormat, vs[0])
			}
			node = graph.NewUnoOp(op, int(vs[1]))
			return nil
		case nodeFieldDuoOp:
			vs, err := decodeUintFields(b, 3)
			if err != nil {
				return err
			}
			op := field.Op(vs[0])
			if !op.Valid() {
				return fmt.Errorf("%w: unknown binary operator %d", ErrGraphFormat, vs[0])
			}
			node = graph.NewOp(op, int(vs[1]), int(vs[2]))
			return nil
		case nodeFieldTresOp:
			vs, err := decodeUintFields(b, 4)
			if err != nil {
				return err
			}
			op := field.TresOp(vs[0])
			if !op.Valid() {
				return fmt.Errorf("%w: unknown ternary operator %d", ErrGraphFormat, vs[0])
			}
			node = graph.NewTresOp(op, int(vs[1]), int(vs[2]), int(vs[3]))
			return nil
		}
		return fmt.Errorf("%w: unknown node variant %d", ErrGraphFormat, num)
	})
	if err != nil {
		return node, err
	}
	if !seen {
		return node, fmt.Errorf("%w: empty node message", ErrGraphFormat)
	}
	return node, nil
}

// decodeUintFields reads a message whose fields 1..n are varints,
// returning them in field order with proto3 zero defaults.
func decodeUintFields(msg []byte, n int) ([]uint64, error) {
	out := make([]uint64, n)
	err := scanFields(msg, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		if typ != protowire.VarintType || int(num) < 1 || int(num) > n {
			return fmt.Errorf("%w: unexpected field %d", ErrGraphFormat, num)
		}
		out[num-1] = v
		return nil
	})
	return out, err
}

func decodeConstantNode(msg []byte, node *graph.Node) error {
	found := false
	err := scanFields(msg, func(num protowire.Number, typ protowire.Type, _ uint64, b []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return fmt.Errorf("%w: unexpected field %d in constant", ErrGraphFormat, num)
		}
		var valueLE []byte
		err := scanFields(b, func(num protowire.Number, typ protowire.Type, _ uint64, b []byte) error {
			if num != 1 || typ != protowire.BytesType {
				return fmt.Errorf("%w: unexpected field %d in bigint", ErrGraphFormat, num)
			}
			valueLE = b
			return nil
		})
		if err != nil {
			return err
		}
		e, err := montFromBytesLE(valueLE)
		if err != nil {
			return err
		}
		*node = graph.MontConstant(e)
		found = true
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: constant node without a value", ErrGraphFormat)
	}
	return nil
}

func encodeMetadata(witnessSignals []int, inputs graph.InputsInfo) []byte {
	var b []byte

	if len(witnessSignals) > 0 {
		var packed []byte
		for _, s := range witnessSignals {
			packed = protowire.AppendVarint(packed, uint64(s))
		}
		b = appendMessage(b, 1, packed)
	}

	// Deterministic bytes: map entries in key order.
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sig := inputs[name]
		desc := appendUintField(nil, 1, uint64(sig.Offset))
		desc = appendUintField(desc, 2, uint64(sig.Len))

		var entry []byte
		if name != "" {
			entry = protowire.AppendTag(entry, 1, protowire.BytesType)
			entry = protowire.AppendBytes(entry, []byte(name))
		}
		entry = appendMessage(entry, 2, desc)
		b = appendMessage(b, 2, entry)
	}
	return b
}

func decodeMetadata(msg []byte) ([]int, graph.InputsInfo, error) {
	var witnessSignals []int
	inputs := graph.InputsInfo{}

	err := scanFields(msg, func(num protowire.Number, typ protowire.Type, v uint64, b []byte) error {
		switch num {
		case 1:
			switch typ {
			case protowire.VarintType:
				witnessSignals = append(witnessSignals, int(v))
			case protowire.BytesType:
				for len(b) > 0 {
					v, n := protowire.ConsumeVarint(b)
					if n < 0 {
						return fmt.Errorf("%w: %v", ErrGraphFormat, protowire.ParseError(n))
					}
					b = b[n:]
					witnessSignals = append(witnessSignals, int(v))
				}
			}
			return nil
		case 2:
			if typ != protowire.BytesType {
				return fmt.Errorf("%w: inputs entry with wire type %d", ErrGraphFormat, typ)
			}
			name, sig, err := decodeInputEntry(b)
			if err != nil {
				return err
			}
			inputs[name] = sig
			return nil
		}
		return fmt.Errorf("%w: unknown metadata field %d", ErrGraphFormat, num)
	})
	if err != nil {
		return nil, nil, err
	}
	return witnessSignals, inputs, nil
}

func decodeInputEntry(msg []byte) (string, graph.SignalRange, error) {
	var name string
	var sig graph.SignalRange

	err := scanFields(msg, func(num protowire.Number, typ protowire.Type, _ uint64, b []byte) error {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return fmt.Errorf("%w: inputs key with wire type %d", ErrGraphFormat, typ)
			}
			name = string(b)
			return nil
		case 2:
			if typ != protowire.BytesType {
				return fmt.Errorf("%w: inputs value with wire type %d", ErrGraphFormat, typ)
			}
			vs, err := decodeUintFields(b, 2)
			if err != nil {
				return err
			}
			sig = graph.SignalRange{Offset: int(vs[0]), Len: int(vs[1])}
			return nil
		}
		return fmt.Errorf("%w: unknown inputs-entry field %d", ErrGraphFormat, num)
	})
	return name, sig, err
}
