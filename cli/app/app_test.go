package app_test

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/nspcc-dev/blockfeed/cli/app"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestCLIVersion(t *testing.T) {
	config.Version = "0.1.0-test"
	ctl := app.New()
	buf := new(bytes.Buffer)
	ctl.Writer = buf
	require.NoError(t, ctl.Run([]string{"blockfeed", "--version"}))
	require.Equal(t, "Blockfeed\nVersion: 0.1.0-test\nGoVersion: "+runtime.Version()+"\n", buf.String())
}

func TestCommands(t *testing.T) {
	ctl := app.New()
	require.Equal(t, "blockfeed", ctl.Name)
	require.NotNil(t, ctl.Command("node"))
	require.NotNil(t, ctl.Command("check-config"))
}
