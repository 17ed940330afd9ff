package main

import (
	"os"

	"github.com/lila-repro/lila/cmd"
)

func main() {
	cmd.Execute(os.Args[1:])
}
