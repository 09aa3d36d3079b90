// The main package for the kibblewatch executable.
package main

import (
	"github.com/kibblewatch/crawler/cmd"
)

func main() {
	cmd.Execute()
}
