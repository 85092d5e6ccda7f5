// Command riskctl runs the risk engine offline over a file of transactions
// and inspects rule files.
package main

import (
	"fmt"
	"os"
)

func main() {
	cli := NewCLI(os.Stdout)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
