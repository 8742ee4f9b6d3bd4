package main

import (
	"os"

	"github.com/emberworks/ember/internal/cmd"
	"github.com/emberworks/ember/internal/log"
)

func main() {
	defer log.RecoverPanic("main", func() {
		os.Exit(1)
	})
	cmd.Execute()
}
