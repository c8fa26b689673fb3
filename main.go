package main

import (
	"os"

	"clinical-workflow-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
