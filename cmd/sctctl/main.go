package main

import (
	"os"

	"github.com/xll-gen/sct/cmd/sctctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
