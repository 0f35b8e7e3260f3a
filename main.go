// The main package for the webarchiver executable.
package main

import (
	"github.com/JakeFAU/webarchiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
