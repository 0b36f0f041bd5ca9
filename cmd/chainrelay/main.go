package main

import (
	"os"

	"github.com/vietddude/chainrelay/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
