package witness

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/storage"
)

// CalcWitness loads a serialized graph, lays the JSON inputs out in the
// signal buffer and evaluates the graph to the ordered witness.
func CalcWitness(inputsJSON, graphData []byte) ([]uint256.Int, error) {
	inputs, err := ParseInputs(inputsJSON)
	if err != nil {
		return nil, err
	}

	nodes, witnessSignals, inputsInfo, err := storage.Deserialize(bytes.NewReader(graphData))
	if err != nil {
		return nil, err
	}

	buffer, err := buildInputBuffer(nodes, inputsInfo, inputs)
	if err != nil {
		return nil, err
	}

	return graph.Evaluate(nodes, buffer, witnessSignals)
}

// buildInputBuffer sizes the input buffer from the graph's Input prefix,
// pins position 0 to the constant 1 and copies every provided input into
// its declared range.
func buildInputBuffer(nodes []graph.Node, info graph.InputsInfo, inputs map[string][]uint256.Int) ([]uint256.Int, error) {
	buffer := make([]uint256.Int, graph.InputsSize(nodes))
	if len(buffer) > 0 {
		buffer[0] = *uint256.NewInt(1)
	}

	for name, values := range inputs {
		sig, ok := info[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown input %q", ErrInputShape, name)
		}
		if len(values) != sig.Len {
			return nil, fmt.Errorf("%w: input %q has %d values, circuit declares %d",
				ErrInputShape, name, len(values), sig.Len)
		}
		if sig.Offset+sig.Len > len(buffer) {
			return nil, fmt.Errorf("%w: input %q range %d..%d exceeds buffer of %d",
				ErrInputShape, name, sig.Offset, sig.Offset+sig.Len, len(buffer))
		}
		copy(buffer[sig.Offset:], values)
	}
	return buffer, nil
}
