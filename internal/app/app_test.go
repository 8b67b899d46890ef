package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// fakeInflux records every write it receives.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
	status int
}

func (f *fakeInflux) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.paths = append(f.paths, r.URL.Path)
	status := f.status
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (f *fakeInflux) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

// testEnv points every rpmannotate path at a temp dir, replaces rpm with a
// script that prints packagesFile, and the sink with a fake InfluxDB.
type testEnv struct {
	dir          string
	packagesFile string
	influx       *fakeInflux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	env := &testEnv{
		dir:          dir,
		packagesFile: filepath.Join(dir, "packages.txt"),
		influx:       &fakeInflux{},
	}

	script := filepath.Join(dir, "rpm")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat \""+env.packagesFile+"\"\n"), 0755))

	srv := httptest.NewServer(http.HandlerFunc(env.influx.handler))
	t.Cleanup(srv.Close)

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("RPMANNOTATE_STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("RPMANNOTATE_SOURCE_BINARY", script)
	t.Setenv("RPMANNOTATE_SINK_URL", srv.URL)
	t.Setenv("RPMANNOTATE_SERIES_HOSTNAME", "web01.example.com")
	t.Setenv("RPMANNOTATE_LOG", "error")
	return env
}

func (e *testEnv) setPackages(t *testing.T, lines ...string) {
	t.Helper()
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(e.packagesFile, b.Bytes(), 0644))
}

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(RootCmd)
	cfgFile, logLevel = "", ""

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})

	err := RootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// resetFlags restores every flag to its default; cobra keeps flag state
// between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
