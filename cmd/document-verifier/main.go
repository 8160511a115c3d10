// Command document-verifier scores uploaded income proofs in the shared
// conversation state.
package main

import (
	"log"
	"os"

	"github.com/wolfman30/loan-sales-assistant/cmd/mainconfig"
	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
)

func main() {
	app := mainconfig.WorkerApp("document-verifier", "score pending income proof documents", bootstrap.WorkerDocuments)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
