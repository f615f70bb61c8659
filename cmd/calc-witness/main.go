// Command calc-witness evaluates a witness graph on a JSON input
// assignment and writes the witness in the wtns container format.
package main

import (
	"bufio"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/witness"
)

func main() {
	graphPath := flag.String("graph", "", "path to the graph file")
	inputsPath := flag.String("inputs", "", "path to the inputs JSON")
	witnessPath := flag.String("witness", "", "path to write the wtns file")
	verbose := flag.Bool("v", false, "verbose tracing")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *graphPath == "" || *inputsPath == "" || *witnessPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	inputsData, err := os.ReadFile(*inputsPath)
	if err != nil {
		log.Fatal(err)
	}
	graphData, err := os.ReadFile(*graphPath)
	if err != nil {
		log.Fatal(err)
	}

	wtns, err := witness.CalcWitness(inputsData, graphData)
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*witnessPath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := witness.WriteWTNS(w, wtns); err != nil {
		log.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	log.Infof("witness saved to %s", *witnessPath)
}
