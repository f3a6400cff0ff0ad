package main

import (
	"os"

	"github.com/scan-io-git/sweeper/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
