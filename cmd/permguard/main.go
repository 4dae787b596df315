package main

import (
	"os"

	"github.com/ppiankov/permguard/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
