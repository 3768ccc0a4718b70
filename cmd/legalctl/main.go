// Command legalctl is the operator CLI for legalflow: schema migrations,
// directory imports, division registry sync and approver lookups.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
