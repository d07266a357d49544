// Command docqa answers questions about a fixed set of documents. It ingests
// PDF and text files into a vector index and serves the query flow over a
// one-shot CLI, an interactive terminal chat and an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
