package main

import (
	"os"

	"github.com/dshills/commitgate/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
