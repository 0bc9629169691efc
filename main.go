// The main package for the stockwatch executable.
package main

import (
	"github.com/mzalewski/stockwatch/cmd"
)

func main() {
	cmd.Execute()
}
