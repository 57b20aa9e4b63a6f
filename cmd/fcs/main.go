package main

import (
	"os"

	"github.com/Patryk27/free-churro-scheduler/cmd/fcs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
