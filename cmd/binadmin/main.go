package main

import (
	"os"

	"github.com/bgunnarsson/binadmin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
