// The main package for the archive-indexer executable.
package main

import (
	"github.com/JakeFAU/archive-indexer/cmd"
)

func main() {
	cmd.Execute()
}
