package mainconfig

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
)

func TestWorkerFlags(t *testing.T) {
	names := map[string]bool{}
	for _, f := range WorkerFlags() {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{"state_file", "state_dir", "sessions", "interval", "watch", "log_file", "log_level"} {
		assert.True(t, names[want], "missing flag %s", want)
	}
}

func TestWorkerAppStopsOnCancelledContext(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("STATE_BACKEND", "file")
	t.Setenv("DOCUMENT_BUCKET", "")
	t.Setenv("DOCUMENT_DIR", filepath.Join(dir, "letters"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	app := WorkerApp("workers", "test", bootstrap.WorkerDocuments, bootstrap.WorkerSanction)
	err := app.RunContext(ctx, []string{"workers",
		"--state_file", filepath.Join(dir, "state.json"),
		"--interval", "10ms",
		"--log_level", "error",
		"--watch",
	})
	require.NoError(t, err)
}
