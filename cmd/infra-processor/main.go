package main

import (
	"os"

	"github.com/occopus/infra-processor/cmd/infra-processor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
