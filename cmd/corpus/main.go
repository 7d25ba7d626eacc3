package main

import (
	"os"

	"github.com/kirillkom/filings-corpus/internal/adapters/cli"
)

func main() {
	os.Exit(cli.Execute())
}
