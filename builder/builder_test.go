package builder

import (
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
)

func u(v uint64) uint256.Int { return *uint256.NewInt(v) }

func u32(v int) ir.ValueBucket {
	return ir.ValueBucket{Parse: ir.U32, Value: v}
}

func bigInt(nodeIdx int) ir.ValueBucket {
	return ir.ValueBucket{Parse: ir.BigInt, Value: nodeIdx}
}

func indexed(idx int) ir.IndexedLocation {
	return ir.IndexedLocation{Location: u32(idx)}
}

func loadSignal(idx int) ir.LoadBucket {
	return ir.LoadBucket{Address: ir.SignalAddress{}, Src: indexed(idx), Size: 1}
}

func storeSignal(idx int, src ir.Instruction) ir.StoreBucket {
	return ir.StoreBucket{Address: ir.SignalAddress{}, Dest: indexed(idx), Src: src, Size: 1}
}

func loadVar(idx int) ir.LoadBucket {
	return ir.LoadBucket{Address: ir.VariableAddress{}, Src: indexed(idx), Size: 1}
}

func storeVar(idx int, src ir.Instruction) ir.StoreBucket {
	return ir.StoreBucket{Address: ir.VariableAddress{}, Dest: indexed(idx), Src: src, Size: 1}
}

func compute(op ir.OperatorType, operands ...ir.Instruction) ir.ComputeBucket {
	return ir.ComputeBucket{Op: op, Stack: operands}
}

// buildAndEvaluate runs the builder and evaluates the unoptimized graph
// on the provided inputs, returning the witness values.
func buildAndEvaluate(t *testing.T, c *ir.Circuit, inputs map[string][]uint256.Int) (*Result, []uint256.Int) {
	t.Helper()
	res, err := Build(c, inputs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := graph.AssertValid(res.Nodes); err != nil {
		t.Fatalf("built graph invalid: %v", err)
	}
	witness, err := graph.EvaluateCanonical(res.Nodes, res.InputValues, res.Witness)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return res, witness
}

func wantWitness(t *testing.T, got []uint256.Int, want ...uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("witness length: expected %d, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i] != u(w) {
			t.Errorf("witness[%d]: expected %d, got %s", i, w, got[i].Dec())
		}
	}
}

// identityCircuit is `out <== in`: signal 0 is the constant 1, signal 1
// the output, signal 2 the input.
func identityCircuit() *ir.Circuit {
	return &ir.Circuit{
		TotalSignals: 3,
		MainID:       0,
		Inputs:       []ir.InputSignal{{Name: "in", Offset: 2, Len: 1}},
		Witness:      []int{0, 1, 2},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "Identity",
				Body: []ir.Instruction{storeSignal(0, loadSignal(1))},
			},
		},
	}
}

// TestBuild_Identity is the smallest end-to-end scenario: the witness is
// [1, in, in].
func TestBuild_Identity(t *testing.T) {
	res, witness := buildAndEvaluate(t, identityCircuit(),
		map[string][]uint256.Int{"in": {u(7)}})
	wantWitness(t, witness, 1, 7, 7)

	if len(res.Nodes) != 2 {
		t.Errorf("expected 2 nodes (constant-1 input and in), got %d", len(res.Nodes))
	}
	sig, ok := res.InputsInfo["in"]
	if !ok || sig != (graph.SignalRange{Offset: 1, Len: 1}) {
		t.Errorf("inputs info: expected {1 1}, got %v (present %v)", sig, ok)
	}
}

// TestBuild_AdditionWithConstant is `out <== a + b + 2` with the 2 coming
// from the tracked-constants prefix.
func TestBuild_AdditionWithConstant(t *testing.T) {
	c := &ir.Circuit{
		FieldTracking: []string{"2"},
		TotalSignals:  4,
		MainID:        0,
		Inputs: []ir.InputSignal{
			{Name: "a", Offset: 2, Len: 1},
			{Name: "b", Offset: 3, Len: 1},
		},
		Witness: []int{0, 1, 2, 3},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "AddConst",
				Body: []ir.Instruction{
					storeSignal(0, compute(ir.OpAdd,
						compute(ir.OpAdd, loadSignal(1), loadSignal(2)),
						bigInt(0))),
				},
			},
		},
	}
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"a": {u(3)}, "b": {u(4)},
	})
	wantWitness(t, witness, 1, 9, 3, 4)
}

// ternaryCircuit is `out <== cond ? x : y`: a branch on a signal value
// lowered to a single TernCond node.
func ternaryCircuit() *ir.Circuit {
	return &ir.Circuit{
		TotalSignals: 5,
		MainID:       0,
		Inputs: []ir.InputSignal{
			{Name: "cond", Offset: 2, Len: 1},
			{Name: "x", Offset: 3, Len: 1},
			{Name: "y", Offset: 4, Len: 1},
		},
		Witness: []int{0, 1},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "Ternary",
				Body: []ir.Instruction{
					ir.BranchBucket{
						Cond: loadSignal(1),
						If:   []ir.Instruction{storeSignal(0, loadSignal(2))},
						Else: []ir.Instruction{storeSignal(0, loadSignal(3))},
					},
				},
			},
		},
	}
}

// TestBuild_TernaryOverSignal tests the branch-as-ternary lowering for
// both condition values.
func TestBuild_TernaryOverSignal(t *testing.T) {
	res, witness := buildAndEvaluate(t, ternaryCircuit(), map[string][]uint256.Int{
		"cond": {u(0)}, "x": {u(11)}, "y": {u(22)},
	})
	wantWitness(t, witness, 1, 22)

	hasTern := false
	for _, n := range res.Nodes {
		if n.Kind == graph.KindTresOp {
			hasTern = true
		}
	}
	if !hasTern {
		t.Error("expected a TernCond node in the graph")
	}

	// Flip the condition in the input buffer and re-evaluate.
	buffer := append([]uint256.Int(nil), res.InputValues...)
	buffer[res.InputsInfo["cond"].Offset] = u(1)
	witness2, err := graph.EvaluateCanonical(res.Nodes, buffer, res.Witness)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	wantWitness(t, witness2, 1, 11)
}

// adderCircuit wires a two-input adder subcomponent: parent signals
// out/a/b at 1..3, subcomponent out/x/y at 4..6. The parent body, and
// with it the input statuses of its stores, is supplied by the caller.
func adderCircuit(body []ir.Instruction) *ir.Circuit {
	return &ir.Circuit{
		TotalSignals: 7,
		MainID:       0,
		Inputs: []ir.InputSignal{
			{Name: "a", Offset: 2, Len: 1},
			{Name: "b", Offset: 3, Len: 1},
		},
		Witness: []int{0, 1, 2, 3, 4},
		Templates: []ir.Template{
			{
				ID:                 0,
				Name:               "Main",
				NumberOfComponents: 1,
				Body:               body,
			},
			{
				ID:             1,
				Name:           "Add2",
				NumberOfInputs: 2,
				Body: []ir.Instruction{
					storeSignal(0, compute(ir.OpAdd, loadSignal(1), loadSignal(2))),
				},
			},
		},
	}
}

func createAdder() ir.CreateCmpBucket {
	return ir.CreateCmpBucket{
		TemplateID:       1,
		SubCmpID:         u32(0),
		Name:             "adder",
		SignalOffset:     3,
		SignalOffsetJump: 3,
		NumberOfCmp:      1,
		HasInputs:        true,
	}
}

func storeSubcmp(cmp, idx int, status ir.StatusInput, src ir.Instruction) ir.StoreBucket {
	return ir.StoreBucket{
		Address: ir.SubcmpAddress{CmpAddress: u32(cmp), IsInput: true, Status: status},
		Dest:    indexed(idx),
		Src:     src,
		Size:    1,
	}
}

func loadSubcmp(cmp, idx int) ir.LoadBucket {
	return ir.LoadBucket{
		Address: ir.SubcmpAddress{CmpAddress: u32(cmp)},
		Src:     indexed(idx),
		Size:    1,
	}
}

// TestBuild_SubcomponentFiring tests that a (NoLast, Last) store
// sequence runs the callee exactly after the second store.
func TestBuild_SubcomponentFiring(t *testing.T) {
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.NoLast, loadSignal(1)),
		storeSubcmp(0, 2, ir.Last, loadSignal(2)),
		storeSignal(0, loadSubcmp(0, 0)),
	})
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"a": {u(3)}, "b": {u(4)},
	})
	wantWitness(t, witness, 1, 7, 3, 4, 7)
}

// TestBuild_SubcomponentOutputBeforeFiring tests that reading the
// subcomponent's output before its last input is stored is fatal.
func TestBuild_SubcomponentOutputBeforeFiring(t *testing.T) {
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.NoLast, loadSignal(1)),
		storeSignal(0, loadSubcmp(0, 0)),
		storeSubcmp(0, 2, ir.Last, loadSignal(2)),
	})
	_, err := Build(c, nil)
	if !errors.Is(err, ErrSignalNotSet) {
		t.Errorf("expected ErrSignalNotSet, got %v", err)
	}
}

// TestBuild_SubcomponentStatusViolations tests the Last/NoLast
// consistency checks.
func TestBuild_SubcomponentStatusViolations(t *testing.T) {
	// Last on the first of two inputs.
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.Last, loadSignal(1)),
		storeSubcmp(0, 2, ir.Last, loadSignal(2)),
		storeSignal(0, loadSubcmp(0, 0)),
	})
	if _, err := Build(c, nil); err == nil {
		t.Error("Last on first input: expected an error")
	}

	// NoLast on the final input.
	c = adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.NoLast, loadSignal(1)),
		storeSubcmp(0, 2, ir.NoLast, loadSignal(2)),
		storeSignal(0, loadSubcmp(0, 0)),
	})
	if _, err := Build(c, nil); err == nil {
		t.Error("NoLast on final input: expected an error")
	}
}

// TestBuild_SubcomponentUnknownStatus tests that Unknown fires exactly
// when the input count reaches zero.
func TestBuild_SubcomponentUnknownStatus(t *testing.T) {
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.Unknown, loadSignal(1)),
		storeSubcmp(0, 2, ir.Unknown, loadSignal(2)),
		storeSignal(0, loadSubcmp(0, 0)),
	})
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"a": {u(10)}, "b": {u(5)},
	})
	wantWitness(t, witness, 1, 15, 10, 5, 15)
}

// TestBuild_MappedSubcomponentSignals tests resolution of Mapped
// locations through the template-instance I/O map.
func TestBuild_MappedSubcomponentSignals(t *testing.T) {
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		ir.StoreBucket{
			Address: ir.SubcmpAddress{CmpAddress: u32(0), IsInput: true, Status: ir.NoLast},
			Dest:    ir.MappedLocation{SignalCode: 1},
			Src:     loadSignal(1),
			Size:    1,
		},
		ir.StoreBucket{
			Address: ir.SubcmpAddress{CmpAddress: u32(0), IsInput: true, Status: ir.Last},
			// The input pair is one two-element I/O definition; index
			// 1 selects its second slot.
			Dest: ir.MappedLocation{SignalCode: 1, Indexes: []ir.Instruction{u32(1)}},
			Src:  loadSignal(2),
			Size: 1,
		},
		storeSignal(0, ir.LoadBucket{
			Address: ir.SubcmpAddress{CmpAddress: u32(0)},
			Src:     ir.MappedLocation{SignalCode: 0},
			Size:    1,
		}),
	})
	c.IOMap = map[int][]ir.IODef{
		1: {
			{Code: 0, Offset: 0},
			{Code: 1, Offset: 1, Lengths: []int{2}},
		},
	}
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"a": {u(8)}, "b": {u(9)},
	})
	wantWitness(t, witness, 1, 17, 8, 9, 17)
}

// loopCircuit is `for i in 1..4 { sum += a[i] }` over a four-element
// input array, seeded with a[0].
func loopCircuit() *ir.Circuit {
	return &ir.Circuit{
		TotalSignals: 6,
		MainID:       0,
		Inputs:       []ir.InputSignal{{Name: "a", Offset: 2, Len: 4}},
		Witness:      []int{0, 1},
		Templates: []ir.Template{
			{
				ID:            0,
				Name:          "Sum4",
				VarStackDepth: 2,
				Body: []ir.Instruction{
					storeVar(0, u32(1)),          // i = 1
					storeVar(1, loadSignal(1)),   // sum = a[0]
					ir.LoopBucket{
						Cond: compute(ir.OpLesser, loadVar(0), u32(4)),
						Body: []ir.Instruction{
							// sum += a[i]
							storeVar(1, compute(ir.OpAdd,
								loadVar(1),
								ir.LoadBucket{
									Address: ir.SignalAddress{},
									Src: ir.IndexedLocation{Location: compute(
										ir.OpAddAddress, u32(1), loadVar(0))},
									Size: 1,
								})),
							// i++
							storeVar(0, compute(ir.OpAddAddress, loadVar(0), u32(1))),
						},
					},
					storeSignal(0, loadVar(1)),
				},
			},
		},
	}
}

// TestBuild_LoopUnrolling tests that a constant-bound loop unrolls into
// a chain of three Add nodes over the four inputs.
func TestBuild_LoopUnrolling(t *testing.T) {
	res, witness := buildAndEvaluate(t, loopCircuit(), map[string][]uint256.Int{
		"a": {u(1), u(2), u(3), u(4)},
	})
	wantWitness(t, witness, 1, 10)

	adds := 0
	for _, n := range res.Nodes {
		if n.Kind == graph.KindOp && n.Op == field.Add {
			adds++
		}
	}
	if adds != 3 {
		t.Errorf("expected 3 Add nodes, got %d", adds)
	}
}

// TestBuild_DivisionByZero tests that `out <== a / b` with b = 0
// completes and yields zero.
func TestBuild_DivisionByZero(t *testing.T) {
	c := &ir.Circuit{
		TotalSignals: 4,
		MainID:       0,
		Inputs: []ir.InputSignal{
			{Name: "a", Offset: 2, Len: 1},
			{Name: "b", Offset: 3, Len: 1},
		},
		Witness: []int{0, 1},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "Div",
				Body: []ir.Instruction{
					storeSignal(0, compute(ir.OpDiv, loadSignal(1), loadSignal(2))),
				},
			},
		},
	}
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"a": {u(7)}, "b": {u(0)},
	})
	wantWitness(t, witness, 1, 0)
}

// TestBuild_FunctionCall tests a function with an array argument whose
// return lands in a signal.
func TestBuild_FunctionCall(t *testing.T) {
	c := &ir.Circuit{
		TotalSignals: 4,
		MainID:       0,
		Inputs:       []ir.InputSignal{{Name: "in", Offset: 2, Len: 2}},
		Witness:      []int{0, 1},
		Templates: []ir.Template{
			{
				ID:   0,
				Name: "CallSum",
				Body: []ir.Instruction{
					ir.CallBucket{
						Symbol: "sum_0",
						Arena:  2,
						Args: []ir.Instruction{
							ir.LoadBucket{Address: ir.SignalAddress{}, Src: indexed(1), Size: 2},
						},
						ArgSizes: []int{2},
						Return: ir.FinalReturn{
							Address: ir.SignalAddress{},
							Dest:    indexed(0),
							Size:    1,
						},
					},
				},
			},
		},
		Functions: []ir.Function{
			{
				Name:   "sum",
				Header: "sum_0",
				Body: []ir.Instruction{
					ir.ReturnBucket{
						Value: compute(ir.OpAdd, loadVar(0), loadVar(1)),
						Size:  1,
					},
				},
			},
		},
	}
	_, witness := buildAndEvaluate(t, c, map[string][]uint256.Int{
		"in": {u(20), u(22)},
	})
	wantWitness(t, witness, 1, 42)
}

// TestBuild_FunctionControlFlow tests a function whose loop and branch
// fold at compile time, returning via a frame slot.
func TestBuild_FunctionControlFlow(t *testing.T) {
	// max3(v[3]) using a constant-bound loop over the frame.
	c := &ir.Circuit{
		TotalSignals: 2,
		MainID:       0,
		Inputs:       nil,
		Witness:      []int{0, 1},
		Templates: []ir.Template{
			{
				ID:            0,
				Name:          "UseMax",
				VarStackDepth: 1,
				Body: []ir.Instruction{
					ir.CallBucket{
						Symbol: "max3_0",
						Arena:  5,
						Args: []ir.Instruction{
							u32(4), u32(9), u32(2),
						},
						ArgSizes: []int{1, 1, 1},
						Return: ir.FinalReturn{
							Address: ir.VariableAddress{},
							Dest:    indexed(0),
							Size:    1,
						},
					},
					storeSignal(0, loadVar(0)),
				},
			},
		},
		Functions: []ir.Function{
			{
				Name:   "max3",
				Header: "max3_0",
				Body: []ir.Instruction{
					// best = v[0]; i = 1
					storeVar(3, loadVar(0)),
					storeVar(4, u32(1)),
					ir.LoopBucket{
						Cond: compute(ir.OpLesser, loadVar(4), u32(3)),
						Body: []ir.Instruction{
							ir.BranchBucket{
								Cond: compute(ir.OpGreater,
									ir.LoadBucket{
										Address: ir.VariableAddress{},
										Src:     ir.IndexedLocation{Location: loadVar(4)},
										Size:    1,
									},
									loadVar(3)),
								If: []ir.Instruction{
									storeVar(3, ir.LoadBucket{
										Address: ir.VariableAddress{},
										Src:     ir.IndexedLocation{Location: loadVar(4)},
										Size:    1,
									}),
								},
							},
							storeVar(4, compute(ir.OpAddAddress, loadVar(4), u32(1))),
						},
					},
					ir.ReturnBucket{Value: loadVar(3), Size: 1},
				},
			},
		},
	}
	res, witness := buildAndEvaluate(t, c, nil)
	wantWitness(t, witness, 1, 9)

	// The whole call folded at compile time: the output is a constant
	// node, not an operation chain.
	if res.Nodes[res.Witness[1]].Kind != graph.KindConstant {
		t.Errorf("expected a constant output node, got %s", res.Nodes[res.Witness[1]])
	}
}

// TestBuild_Errors tests the interpreter invariants.
func TestBuild_Errors(t *testing.T) {
	testCases := []struct {
		name string
		body []ir.Instruction
		want error
	}{
		{
			"double signal store",
			[]ir.Instruction{
				storeSignal(0, loadSignal(1)),
				storeSignal(0, loadSignal(1)),
			},
			ErrSignalSet,
		},
		{
			"load unset signal",
			[]ir.Instruction{storeSignal(0, loadSignal(0))},
			ErrSignalNotSet,
		},
		{
			"signal-dependent index",
			[]ir.Instruction{
				ir.StoreBucket{
					Address: ir.SignalAddress{},
					Dest:    ir.IndexedLocation{Location: loadSignal(1)},
					Src:     u32(1),
					Size:    1,
				},
			},
			ErrNotConstant,
		},
		{
			"non-constant loop condition",
			[]ir.Instruction{
				ir.LoopBucket{Cond: loadSignal(1), Body: nil},
			},
			ErrNonConstantCondition,
		},
		{
			"non-ternary runtime branch",
			[]ir.Instruction{
				ir.BranchBucket{
					Cond: loadSignal(1),
					If: []ir.Instruction{
						storeVar(0, u32(1)),
						storeVar(0, u32(2)),
					},
					Else: []ir.Instruction{storeVar(0, u32(3))},
				},
			},
			ErrNonConstantCondition,
		},
		{
			"unset variable",
			[]ir.Instruction{storeSignal(0, loadVar(0))},
			ErrVariableNotSet,
		},
	}

	for _, tc := range testCases {
		c := &ir.Circuit{
			TotalSignals: 3,
			MainID:       0,
			Inputs:       []ir.InputSignal{{Name: "in", Offset: 2, Len: 1}},
			Witness:      []int{0},
			Templates: []ir.Template{
				{ID: 0, Name: "T", VarStackDepth: 1, Body: tc.body},
			},
		}
		_, err := Build(c, nil)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

// TestBuild_UnsetSignalDetected tests the whole-table check: a circuit
// that never writes one of its signals fails the build.
func TestBuild_UnsetSignalDetected(t *testing.T) {
	c := identityCircuit()
	c.TotalSignals = 4 // signal 3 is never produced
	if _, err := Build(c, nil); err == nil {
		t.Error("expected an error for an unset signal")
	}
}

// TestBuild_ErrorCarriesCallStack tests that a failure deep in a
// subcomponent names the template chain.
func TestBuild_ErrorCarriesCallStack(t *testing.T) {
	c := adderCircuit([]ir.Instruction{
		createAdder(),
		storeSubcmp(0, 1, ir.NoLast, loadSignal(1)),
		storeSubcmp(0, 2, ir.Last, loadSignal(2)),
		storeSignal(0, loadSubcmp(0, 0)),
	})
	// Break the callee: its signal 3 lies past the end of the signal
	// table.
	c.Templates[1].Body = []ir.Instruction{
		storeSignal(0, compute(ir.OpAdd, loadSignal(1), loadSignal(3))),
	}
	_, err := Build(c, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	for _, name := range []string{"Main", "Add2"} {
		if !strings.Contains(msg, name) {
			t.Errorf("error %q does not name template %s", msg, name)
		}
	}
}
