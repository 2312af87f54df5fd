// The main package for the causelist-crawler executable.
package main

import (
	"github.com/JakeFAU/causelist-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
