// The main package for the frontier executable.
package main

import (
	"github.com/JakeFAU/crawl-frontier/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
