// Package builder symbolically executes the front end's bucket tree into
// an arithmetic computation graph. Every index, subcomponent address,
// mapped-signal lookup and function call is resolved statically; only
// expressions that depend on signal values become graph nodes.
package builder

import (
	"fmt"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
)

// Result is the outcome of a successful build.
type Result struct {
	// Nodes is the unoptimized computation graph.
	Nodes []graph.Node
	// Witness holds one node index per witness entry, in witness order.
	Witness []int
	// InputsInfo locates every named input in the input-values buffer.
	InputsInfo graph.InputsInfo
	// InputValues is the populated input buffer (position 0 carries 1);
	// used by the unoptimized-graph dump.
	InputValues []uint256.Int
	// SignalNodes maps every signal index to the node computing it.
	SignalNodes []int
}

// unsetSignal is the signal-table sentinel: no node computes the signal
// yet. Every slot must leave this state exactly once over a build.
const unsetSignal = -1

type context struct {
	circuit *ir.Circuit
	nodes   []graph.Node
	signals []int
}

// instance is one live subcomponent: where its signal block starts and
// how many of its inputs are still missing. The instance runs exactly
// once: the moment its last input is stored, or right at creation when
// it has no inputs.
type instance struct {
	templateID      int
	signalOffset    int
	remainingInputs int
}

// Build symbolically executes the circuit's main template and returns
// the resulting graph together with the witness projection and the
// input directory.
//
// inputValues may be nil: the directory is still built and the value
// buffer defaults to zeros, which is all the optimizer needs. When
// provided, every declared input must be present with its declared
// length.
func Build(c *ir.Circuit, inputValues map[string][]uint256.Int) (*Result, error) {
	for i, t := range c.Templates {
		if t.ID != i {
			return nil, fmt.Errorf("builder: template %q has id %d at position %d", t.Name, t.ID, i)
		}
	}

	ctx := &context{
		circuit: c,
		signals: make([]int, c.TotalSignals),
	}
	for i := range ctx.signals {
		ctx.signals[i] = unsetSignal
	}

	for _, dec := range c.FieldTracking {
		v, err := uint256.FromDecimal(dec)
		if err != nil {
			return nil, fmt.Errorf("builder: bad tracked constant %q: %v", dec, err)
		}
		ctx.nodes = append(ctx.nodes, graph.Constant(*v))
	}

	inputsInfo, values, err := ctx.initInputSignals(inputValues)
	if err != nil {
		return nil, err
	}

	// The main component's signal block starts right after the
	// constant-1 signal.
	if err := ctx.runTemplate(c.MainID, 1); err != nil {
		return nil, err
	}

	for i, n := range ctx.signals {
		if n == unsetSignal {
			return nil, fmt.Errorf("builder: signal %d is not set after execution", i)
		}
	}

	witness := make([]int, len(c.Witness))
	for i, s := range c.Witness {
		witness[i] = ctx.signals[s]
	}

	return &Result{
		Nodes:       ctx.nodes,
		Witness:     witness,
		InputsInfo:  inputsInfo,
		InputValues: values,
		SignalNodes: ctx.signals,
	}, nil
}

// initInputSignals creates the Input node prefix: one node for the
// constant-1 signal, then one per declared input slot. The returned
// directory maps each input name to its range in the value buffer.
func (ctx *context) initInputSignals(inputValues map[string][]uint256.Int) (graph.InputsInfo, []uint256.Int, error) {
	values := []uint256.Int{*uint256.NewInt(1)}
	ctx.nodes = append(ctx.nodes, graph.Input(0))
	ctx.signals[0] = len(ctx.nodes) - 1

	info := graph.InputsInfo{}
	for _, in := range ctx.circuit.Inputs {
		info[in.Name] = graph.SignalRange{Offset: len(values), Len: in.Len}

		var vals []uint256.Int
		if inputValues != nil {
			provided, ok := inputValues[in.Name]
			if !ok {
				return nil, nil, fmt.Errorf("builder: input signal %q is not found in inputs", in.Name)
			}
			if len(provided) != in.Len {
				return nil, nil, fmt.Errorf("builder: input signal %q has length %d, want %d",
					in.Name, len(provided), in.Len)
			}
			vals = provided
		} else {
			vals = make([]uint256.Int, in.Len)
		}

		for i, v := range vals {
			values = append(values, v)
			ctx.nodes = append(ctx.nodes, graph.Input(len(values)-1))
			ctx.signals[in.Offset+i] = len(ctx.nodes) - 1
		}
	}
	return info, values, nil
}

// runTemplate executes one template instance over the signal block
// starting at signalOffset.
func (ctx *context) runTemplate(templateID, signalOffset int) error {
	if templateID < 0 || templateID >= len(ctx.circuit.Templates) {
		return fmt.Errorf("builder: no template with id %d", templateID)
	}
	tmpl := &ctx.circuit.Templates[templateID]
	log.Debugf("run template #%d %s, %d instructions", tmpl.ID, tmpl.Name, len(tmpl.Body))

	s := &scope{
		ctx:          ctx,
		signalOffset: signalOffset,
		vars:         make([]Var, tmpl.VarStackDepth),
		subcmps:      make([]*instance, tmpl.NumberOfComponents),
	}
	if err := s.run(tmpl.Body); err != nil {
		return fmt.Errorf("template %s: %w", tmpl.Name, err)
	}
	return nil
}

// pushNode appends a node and returns its index.
func (ctx *context) pushNode(n graph.Node) int {
	ctx.nodes = append(ctx.nodes, n)
	return len(ctx.nodes) - 1
}
