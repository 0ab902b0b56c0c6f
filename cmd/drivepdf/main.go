package main

import (
	"os"

	"github.com/dl-alexandre/drivepdf/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
