package main

import (
	"fmt"
	"os"

	"quill/internal/shared/logging"
)

func main() {
	err := newRootCommand().Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
