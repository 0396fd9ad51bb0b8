package main

import (
	"fmt"
	"os"

	"github.com/pendergraft/contradeploy/internal/cli"
)

var version = "dev"

func main() {
	err := cli.Execute(version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
