package builder

import (
	"fmt"
	"io"
	"strings"

	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
)

// DumpUnoptimized evaluates the freshly-built graph in canonical form
// and writes one line per node: its value, the signals it computes and
// the witness positions those signals feed. Meant for inspecting a build
// before the optimizer reshapes it.
func DumpUnoptimized(w io.Writer, c *ir.Circuit, res *Result) error {
	nodeToSignals := make(map[int][]int)
	for signal, node := range res.SignalNodes {
		nodeToSignals[node] = append(nodeToSignals[node], signal)
	}
	signalToWitness := make(map[int][]int)
	for pos, signal := range c.Witness {
		signalToWitness[signal] = append(signalToWitness[signal], pos)
	}

	values, err := graph.CanonicalValues(res.Nodes, res.InputValues)
	if err != nil {
		return err
	}

	for i, n := range res.Nodes {
		signals := nodeToSignals[i]
		var witness []int
		for _, s := range signals {
			witness = append(witness, signalToWitness[s]...)
		}
		fmt.Fprintf(w, "[%4d] %77s (%s) (%s) %s\n",
			i, values[i].Dec(), joinInts(signals), joinInts(witness), n)
	}
	return nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
