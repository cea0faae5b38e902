// relormgen generates per-entity table and column constants from a yaml
// config. Run: go run github.com/relorm/relorm/gen/cmd/relormgen -config relormgen.yaml
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relorm/relorm/gen"
)

func main() {
	config := flag.String("config", "relormgen.yaml", "path to the generator config")
	flag.Parse()

	cfg, err := gen.LoadConfig(*config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := gen.Generate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
