package rpm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

const mockQueryOutput = "bash\t5.1.8\t6.el9_1\n" +
	"glibc\t2.34\t60.el9\n" +
	"gpg-pubkey\t8483c65d\t5ccc5b19\n" +
	"broken-line-without-tabs\n" +
	"\n" +
	"kernel-core\t5.14.0\t284.11.1.el9_2\n"

const mockBashInfo = `Name        : bash
Version     : 5.1.8
Release     : 6.el9_1
Architecture: x86_64
Install Date: Tue 04 Jul 2023 10:12:01 AM UTC
Group       : Unspecified
`

// fakeRunner replays canned output keyed by the joined argument list.
type fakeRunner struct {
	outputs map[string]string
	stderr  map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) run(ctx context.Context, binary string, args ...string) ([]byte, []byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, binary+" "+key)
	if err, ok := f.errs[key]; ok {
		return nil, []byte(f.stderr[key]), err
	}
	out, ok := f.outputs[key]
	if !ok {
		return nil, []byte("package " + key + " is not installed"), errors.New("exit status 1")
	}
	return []byte(out), []byte(f.stderr[key]), nil
}

func newMemLogger() (*log.Logger, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func TestSnapshot_QueryMode(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"-qa --queryformat " + queryFormat: mockQueryOutput,
	}}
	src := New(Options{Binary: "/usr/bin/rpm"}, f.run, nil)

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, snapshot.Snapshot{
		"bash":        "5.1.8-6.el9_1",
		"glibc":       "2.34-60.el9",
		"gpg-pubkey":  "8483c65d-5ccc5b19",
		"kernel-core": "5.14.0-284.11.1.el9_2",
	}, snap)
	require.Len(t, f.calls, 1)
	assert.True(t, strings.HasPrefix(f.calls[0], "/usr/bin/rpm -qa"))
}

func TestSnapshot_StderrWithSuccessIsWarning(t *testing.T) {
	key := "-qa --queryformat " + queryFormat
	f := &fakeRunner{
		outputs: map[string]string{key: "bash\t5.1.8\t6.el9_1\n"},
		stderr:  map[string]string{key: "error: rpmdbNextIterator: skipping h# 1234"},
	}
	logger, h := newMemLogger()

	snap, err := New(Options{}, f.run, logger).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	var warned bool
	for _, e := range h.Entries {
		if e.Level == log.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning for stderr output")
}

func TestSnapshot_CommandFails(t *testing.T) {
	key := "-qa --queryformat " + queryFormat
	f := &fakeRunner{
		errs:   map[string]error{key: errors.New("exit status 1")},
		stderr: map[string]string{key: "error: cannot open Packages database in /var/lib/rpm"},
	}

	_, err := New(Options{}, f.run, nil).Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePackageSource))
	assert.Contains(t, err.Error(), "cannot open Packages database")
}

func TestSnapshot_Timeout(t *testing.T) {
	slow := func(ctx context.Context, binary string, args ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}

	_, err := New(Options{Timeout: 10 * time.Millisecond}, slow, nil).Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePackageSource))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSnapshot_DetailMode(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"-qa":                           "bash-5.1.8-6.el9_1.x86_64\nmystery-1-1.noarch\nzlib-1.2.11-40.el9.x86_64\n",
		"-qi bash-5.1.8-6.el9_1.x86_64": mockBashInfo,
		"-qi mystery-1-1.noarch":        "garbage\n",
		"-qi zlib-1.2.11-40.el9.x86_64": "Name        : zlib\nVersion     : 1.2.11\nRelease     : 40.el9\n",
	}}

	snap, err := New(Options{Mode: ModeDetail}, f.run, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{
		"bash": "5.1.8-6.el9_1",
		"zlib": "1.2.11-40.el9",
	}, snap)
	assert.Len(t, f.calls, 4)
}

func TestSnapshot_DetailModeSkipsFailedInfo(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"-qa":                           "bash-5.1.8-6.el9_1.x86_64\ngone-1-1.noarch\n",
		"-qi bash-5.1.8-6.el9_1.x86_64": mockBashInfo,
	}}

	snap, err := New(Options{Mode: ModeDetail}, f.run, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"bash": "5.1.8-6.el9_1"}, snap)
}

func TestSnapshot_DetailLimit(t *testing.T) {
	var list strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&list, "pkg%d-1.0-1.x86_64\n", i)
	}
	f := &fakeRunner{outputs: map[string]string{"-qa": list.String()}}

	_, err := New(Options{Mode: ModeDetail, DetailLimit: 3}, f.run, nil).Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePackageSource))
	assert.Len(t, f.calls, 1, "no detail queries should run once the limit is exceeded")
}

func TestSnapshot_UnknownMode(t *testing.T) {
	_, err := New(Options{Mode: "yum"}, (&fakeRunner{}).run, nil).Snapshot(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfig))
}

func TestParseQueryLine(t *testing.T) {
	tests := []struct {
		line string
		want Package
		ok   bool
	}{
		{"bash\t5.1.8\t6.el9", Package{"bash", "5.1.8", "6.el9"}, true},
		{"bash\t5.1.8", Package{}, false},
		{"bash\t5.1.8\t6\textra", Package{}, false},
		{"\t5.1.8\t6", Package{}, false},
		{"bash\t(none)\t6", Package{}, false},
	}

	for _, tt := range tests {
		got, ok := parseQueryLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestParseInfo(t *testing.T) {
	p, ok := parseInfo([]byte(mockBashInfo))
	require.True(t, ok)
	assert.Equal(t, Package{Name: "bash", Version: "5.1.8", Release: "6.el9_1"}, p)

	_, ok = parseInfo([]byte("Name        : bash\nVersion     : 5.1.8\n"))
	assert.False(t, ok, "missing release")

	p, ok = parseInfo([]byte("name : python3-libs\nversion : 3.9.16\nrelease : 1.el9\n"))
	require.True(t, ok, "field names are case-insensitive")
	assert.Equal(t, "python3-libs", p.Name)

	p, ok = parseInfo([]byte("Name        : libstdc++-devel\nVersion     : 1.2~rc1\nRelease     : 3.el9^git\n"))
	require.True(t, ok)
	assert.Equal(t, Package{Name: "libstdc++-devel", Version: "1.2~rc1", Release: "3.el9^git"}, p)

	_, ok = parseInfo([]byte("Name        : bash extra\nVersion     : 5.1.8\nRelease     : 6.el9_1\n"))
	assert.False(t, ok, "a header value with trailing text is not trusted")
}

func TestSnapshot_DetailModeKeepsSimilarNamesApart(t *testing.T) {
	f := &fakeRunner{outputs: map[string]string{
		"-qa":                               "libstdc++-11.3.1-4.el9.x86_64\nlibstdc++-devel-11.3.1-4.el9.x86_64\n",
		"-qi libstdc++-11.3.1-4.el9.x86_64": "Name        : libstdc++\nVersion     : 11.3.1\nRelease     : 4.el9\n",
		"-qi libstdc++-devel-11.3.1-4.el9.x86_64": "Name        : libstdc++-devel\nVersion     : 11.3.1\nRelease     : 4.el9\n",
	}}

	snap, err := New(Options{Mode: ModeDetail}, f.run, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{
		"libstdc++":       "11.3.1-4.el9",
		"libstdc++-devel": "11.3.1-4.el9",
	}, snap)
}

func TestVersionRelease(t *testing.T) {
	assert.Equal(t, "1.0-1", Package{Name: "foo", Version: "1.0", Release: "1"}.VersionRelease())
}
