package witness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/builder"
	"github.com/user-none/witnesscalc/field"
	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
	"github.com/user-none/witnesscalc/storage"
)

func u(v uint64) uint256.Int { return *uint256.NewInt(v) }

// TestParseInputs tests the accepted scalar shapes.
func TestParseInputs(t *testing.T) {
	data := []byte(`{
		"key1": ["123", "456", 100500],
		"key2": "789",
		"key3": 123123
	}`)
	inputs, err := ParseInputs(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := map[string][]uint256.Int{
		"key1": {u(123), u(456), u(100500)},
		"key2": {u(789)},
		"key3": {u(123123)},
	}
	if len(inputs) != len(want) {
		t.Fatalf("expected %d inputs, got %d", len(want), len(inputs))
	}
	for name, vals := range want {
		got := inputs[name]
		if len(got) != len(vals) {
			t.Errorf("%s: expected %d values, got %d", name, len(vals), len(got))
			continue
		}
		for i := range vals {
			if got[i] != vals[i] {
				t.Errorf("%s[%d]: expected %s, got %s", name, i, vals[i].Dec(), got[i].Dec())
			}
		}
	}
}

// TestParseInputs_Rejects tests the malformed-input taxonomy.
func TestParseInputs_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not an object", `[1, 2, 3]`},
		{"negative number", `{"a": -1}`},
		{"fractional number", `{"a": 1.5}`},
		{"non-decimal string", `{"a": "0x12"}`},
		{"bool value", `{"a": true}`},
		{"nested array", `{"a": [[1]]}`},
		{"value at modulus", `{"a": "21888242871839275222246405745257275088548364400416034343698204186575808495617"}`},
	}
	for _, tc := range testCases {
		if _, err := ParseInputs([]byte(tc.data)); !errors.Is(err, ErrParseInput) {
			t.Errorf("%s: expected ErrParseInput, got %v", tc.name, err)
		}
	}
}

// buildGraphFile compiles `out <== a + b` into a serialized graph.
func buildGraphFile(t *testing.T) []byte {
	t.Helper()
	c := &ir.Circuit{
		TotalSignals: 4,
		MainID:       0,
		Inputs: []ir.InputSignal{
			{Name: "a", Offset: 2, Len: 1},
			{Name: "b", Offset: 3, Len: 1},
		},
		Witness: []int{0, 1, 2, 3},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "Add",
				Body: []ir.Instruction{
					ir.StoreBucket{
						Address: ir.SignalAddress{},
						Dest:    ir.IndexedLocation{Location: ir.ValueBucket{Parse: ir.U32, Value: 0}},
						Src: ir.ComputeBucket{Op: ir.OpAdd, Stack: []ir.Instruction{
							ir.LoadBucket{Address: ir.SignalAddress{}, Src: ir.IndexedLocation{Location: ir.ValueBucket{Parse: ir.U32, Value: 1}}, Size: 1},
							ir.LoadBucket{Address: ir.SignalAddress{}, Src: ir.IndexedLocation{Location: ir.ValueBucket{Parse: ir.U32, Value: 2}}, Size: 1},
						}},
						Size: 1,
					},
				},
			},
		},
	}
	res, err := builder.Build(c, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	nodes, err := graph.Optimize(res.Nodes, res.Witness, 1)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	var buf bytes.Buffer
	if err := storage.Serialize(&buf, nodes, res.Witness, res.InputsInfo); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

// TestCalcWitness_EndToEnd drives the whole pipeline: build, optimize,
// serialize, evaluate.
func TestCalcWitness_EndToEnd(t *testing.T) {
	graphData := buildGraphFile(t)

	witness, err := CalcWitness([]byte(`{"a": "3", "b": 4}`), graphData)
	if err != nil {
		t.Fatalf("calc witness: %v", err)
	}
	want := []uint256.Int{u(1), u(7), u(3), u(4)}
	if len(witness) != len(want) {
		t.Fatalf("witness length: expected %d, got %d", len(want), len(witness))
	}
	for i := range want {
		if witness[i] != want[i] {
			t.Errorf("witness[%d]: expected %s, got %s", i, want[i].Dec(), witness[i].Dec())
		}
	}
}

// TestCalcWitness_Deterministic tests bit-exact reproducibility for a
// fixed graph and inputs.
func TestCalcWitness_Deterministic(t *testing.T) {
	graphData := buildGraphFile(t)
	inputs := []byte(`{"a": "100", "b": "200"}`)

	w1, err := CalcWitness(inputs, graphData)
	if err != nil {
		t.Fatalf("calc witness: %v", err)
	}
	w2, err := CalcWitness(inputs, graphData)
	if err != nil {
		t.Fatalf("calc witness: %v", err)
	}
	for i := range w1 {
		if w1[i] != w2[i] {
			t.Errorf("witness[%d] differs across runs", i)
		}
	}
}

// TestCalcWitness_ShapeMismatches tests name and length validation
// against the circuit's input directory.
func TestCalcWitness_ShapeMismatches(t *testing.T) {
	graphData := buildGraphFile(t)

	testCases := []struct {
		name   string
		inputs string
	}{
		{"unknown name", `{"a": 1, "b": 2, "c": 3}`},
		{"wrong length", `{"a": [1, 2], "b": 3}`},
	}
	for _, tc := range testCases {
		if _, err := CalcWitness([]byte(tc.inputs), graphData); !errors.Is(err, ErrInputShape) {
			t.Errorf("%s: expected ErrInputShape, got %v", tc.name, err)
		}
	}
}

// TestCalcWitness_MissingInputDefaultsToZero tests that inputs left out
// of the JSON evaluate as zeros, matching the zero-initialized signal
// array model.
func TestCalcWitness_MissingInputDefaultsToZero(t *testing.T) {
	graphData := buildGraphFile(t)
	witness, err := CalcWitness([]byte(`{"a": 5}`), graphData)
	if err != nil {
		t.Fatalf("calc witness: %v", err)
	}
	if witness[1] != u(5) || !witness[3].IsZero() {
		t.Errorf("expected out=5 and b=0, got out=%s b=%s", witness[1].Dec(), witness[3].Dec())
	}
}

// TestWriteWTNS tests the container layout: header, field section,
// values section.
func TestWriteWTNS(t *testing.T) {
	witness := []uint256.Int{u(1), u(7)}
	var buf bytes.Buffer
	if err := WriteWTNS(&buf, witness); err != nil {
		t.Fatalf("write: %v", err)
	}
	data := buf.Bytes()

	wantLen := 4 + 4 + 4 + (4 + 8 + 40) + (4 + 8 + 64)
	if len(data) != wantLen {
		t.Fatalf("length: expected %d, got %d", wantLen, len(data))
	}
	if !bytes.HasPrefix(data, []byte("wtns")) {
		t.Error("missing magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != 2 {
		t.Errorf("version: expected 2, got %d", v)
	}
	if n := binary.LittleEndian.Uint32(data[8:12]); n != 2 {
		t.Errorf("sections: expected 2, got %d", n)
	}

	// Section 1: id, length, n8, modulus, count.
	if id := binary.LittleEndian.Uint32(data[12:16]); id != 1 {
		t.Errorf("section 1 id: expected 1, got %d", id)
	}
	if n8 := binary.LittleEndian.Uint32(data[24:28]); n8 != 32 {
		t.Errorf("n8: expected 32, got %d", n8)
	}
	modLE := data[28:60]
	var mod uint256.Int
	be := make([]byte, 32)
	for i := range be {
		be[i] = modLE[31-i]
	}
	mod.SetBytes(be)
	if m := field.Modulus(); mod != *m {
		t.Errorf("modulus mismatch: got %s", mod.Dec())
	}
	if count := binary.LittleEndian.Uint32(data[60:64]); count != 2 {
		t.Errorf("witness count: expected 2, got %d", count)
	}

	// Section 2: the two values, 32 bytes LE each.
	if id := binary.LittleEndian.Uint32(data[64:68]); id != 2 {
		t.Errorf("section 2 id: expected 2, got %d", id)
	}
	if v := data[76]; v != 1 {
		t.Errorf("first element low byte: expected 1, got %d", v)
	}
	if v := data[76+32]; v != 7 {
		t.Errorf("second element low byte: expected 7, got %d", v)
	}
}
