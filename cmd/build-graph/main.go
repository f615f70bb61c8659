// Command build-graph compiles a circuit (the front end's compiled-IR
// JSON) into an optimized witness graph file.
package main

import (
	"bufio"
	"flag"
	"os"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/builder"
	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
	"github.com/user-none/witnesscalc/storage"
	"github.com/user-none/witnesscalc/witness"
)

func main() {
	circuitPath := flag.String("circuit", "", "path to the compiled circuit JSON")
	graphPath := flag.String("graph", "", "path to write the graph file")
	inputsPath := flag.String("i", "", "optional inputs JSON, used by -print-unoptimized")
	printUnoptimized := flag.Bool("print-unoptimized", false, "dump the unoptimized graph evaluation")
	seed := flag.Int64("seed", 1, "seed for the probabilistic optimization passes")
	verbose := flag.Bool("v", false, "verbose tracing")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *circuitPath == "" || *graphPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	circuitData, err := os.ReadFile(*circuitPath)
	if err != nil {
		log.Fatal(err)
	}
	circuit, err := ir.UnmarshalCircuit(circuitData)
	if err != nil {
		log.Fatal(err)
	}

	var inputValues map[string][]uint256.Int
	if *inputsPath != "" {
		inputsData, err := os.ReadFile(*inputsPath)
		if err != nil {
			log.Fatal(err)
		}
		inputValues, err = witness.ParseInputs(inputsData)
		if err != nil {
			log.Fatal(err)
		}
	}

	result, err := builder.Build(circuit, inputValues)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("built %d nodes, %d witness entries", len(result.Nodes), len(result.Witness))

	if *printUnoptimized {
		if err := builder.DumpUnoptimized(os.Stdout, circuit, result); err != nil {
			log.Fatal(err)
		}
	}

	nodes, err := graph.Optimize(result.Nodes, result.Witness, *seed)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("optimized to %d nodes", len(nodes))

	f, err := os.Create(*graphPath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := storage.Serialize(w, nodes, result.Witness, result.InputsInfo); err != nil {
		log.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	log.Infof("graph saved to %s", *graphPath)
}
