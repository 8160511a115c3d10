// Command workers runs the document verifier and the sanction trigger in
// one process.
package main

import (
	"log"
	"os"

	"github.com/wolfman30/loan-sales-assistant/cmd/mainconfig"
	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
)

func main() {
	app := mainconfig.WorkerApp("workers", "run every background verifier", bootstrap.WorkerDocuments, bootstrap.WorkerSanction)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
