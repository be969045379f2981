package main

import (
	"fmt"
	"os"

	"github.com/failsafe-dev/failsafe/cmd/failsafe/cmdutil"
	"github.com/failsafe-dev/failsafe/cmd/failsafe/root"
)

func main() {
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmdutil.Code(err))
}
