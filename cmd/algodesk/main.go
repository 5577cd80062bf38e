package main

import (
	"os"

	"algodesk/cmd/algodesk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
