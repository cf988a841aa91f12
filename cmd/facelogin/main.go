// Command facelogin runs the face + password login service and its
// administrative tooling.
package main

import (
	"os"
)

const version = "0.2.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
