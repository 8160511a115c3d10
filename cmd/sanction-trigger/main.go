// Command sanction-trigger issues a sanction letter once a conversation is
// approved and its documents are verified.
package main

import (
	"log"
	"os"

	"github.com/wolfman30/loan-sales-assistant/cmd/mainconfig"
	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
)

func main() {
	app := mainconfig.WorkerApp("sanction-trigger", "issue sanction letters for approved, verified conversations", bootstrap.WorkerSanction)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
