// opsctl is the operator CLI: dead-letter queue inspection and requeue,
// manual job enqueue, and vehicle media management.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
