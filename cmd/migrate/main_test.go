package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp() *cli.App {
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion(" 2 ")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = parseVersion("")
	assert.Error(t, err)
	_, err = parseVersion("two")
	assert.Error(t, err)
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	for _, args := range [][]string{
		{"migrate"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "force", "1"},
		{"migrate", "version"},
	} {
		err := testApp().Run(args)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "DATABASE_URL is required", args)
	}
}

func TestArgumentsValidatedBeforeConnecting(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused")

	err := testApp().Run([]string{"migrate", "force"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version argument")

	err = testApp().Run([]string{"migrate", "down", "--steps", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps")
}
