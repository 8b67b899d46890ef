package store

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

func newFileStore(t *testing.T) (*FileStore, *memory.Handler) {
	t.Helper()
	h := memory.New()
	logger := &log.Logger{Handler: h, Level: log.DebugLevel}
	return NewFileStore(filepath.Join(t.TempDir(), "state", "rpmvaluelist"), logger), h
}

func TestFileStore_LoadMissingIsFirstRun(t *testing.T) {
	fs, _ := newFileStore(t)

	_, err := fs.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	assert.False(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	want := snapshot.Snapshot{
		"bash":          "5.1.8-6.el9_1",
		"glibc":         "2.34-60.el9",
		"weird,name":    "1,0-1",
		"tab\tname":     "1.0-1\tx",
		"back\\slash":   `a\tb`,
		"new\nline":     "2.0-1\r",
		"empty-release": "",
	}

	require.NoError(t, fs.Save(ctx, want))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStore_RoundTripEmpty(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, snapshot.Snapshot{}))

	got, err := fs.Load(ctx)
	require.NoError(t, err, "an empty snapshot file is a valid prior, not a first run")
	assert.Empty(t, got)
}

func TestFileStore_SaveReplacesContents(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, snapshot.Snapshot{"foo": "1.0-1", "bar": "2.0-1"}))
	require.NoError(t, fs.Save(ctx, snapshot.Snapshot{"foo": "1.0-2"}))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"foo": "1.0-2"}, got)

	data, err := os.ReadFile(fs.Path())
	require.NoError(t, err)
	assert.Equal(t, "foo\t1.0-2\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(fs.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStore_SortedOutput(t *testing.T) {
	fs, _ := newFileStore(t)
	require.NoError(t, fs.Save(context.Background(), snapshot.Snapshot{"zsh": "5.8-9", "acl": "2.3.1-3"}))

	data, err := os.ReadFile(fs.Path())
	require.NoError(t, err)
	assert.Equal(t, "acl\t2.3.1-3\nzsh\t5.8-9\n", string(data))
}

func TestFileStore_LegacyFormat(t *testing.T) {
	fs, _ := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0755))
	legacy := "bash,5.1.8-6.el9_1\nglibc,2.34-60.el9  \r\n"
	require.NoError(t, os.WriteFile(fs.Path(), []byte(legacy), 0644))

	got, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"bash": "5.1.8-6.el9_1", "glibc": "2.34-60.el9"}, got)
}

func TestFileStore_MalformedLinesSkipped(t *testing.T) {
	fs, h := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0755))
	content := "foo,1.0-1\n" +
		"too,many,commas\n" +
		"nocomma\n" +
		"a\tb\tc\n" +
		"bad\\qescape\t1-1\n" +
		"\n" +
		"bar\t2.0-1\n"
	require.NoError(t, os.WriteFile(fs.Path(), []byte(content), 0644))

	got, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"foo": "1.0-1", "bar": "2.0-1"}, got)

	warnings := 0
	for _, e := range h.Entries {
		if e.Level == log.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 4, warnings)
}

func TestFileStore_LoadUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files regardless of mode")
	}
	fs, _ := newFileStore(t)
	require.NoError(t, fs.Save(context.Background(), snapshot.Snapshot{"foo": "1.0-1"}))
	require.NoError(t, os.Chmod(fs.Path(), 0000))
	t.Cleanup(func() { os.Chmod(fs.Path(), 0644) })

	_, err := fs.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
	assert.False(t, errors.Is(err, ErrNoSnapshot))
}

func TestFileStore_SaveUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fs := NewFileStore(filepath.Join(blocker, "rpmvaluelist"), nil)
	err := fs.Save(context.Background(), snapshot.Snapshot{"foo": "1.0-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistence))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantVR   string
		wantErr  bool
	}{
		{"foo\t1.0-1", "foo", "1.0-1", false},
		{"foo,1.0-1", "foo", "1.0-1", false},
		{"foo,1.0-1 ", "foo", "1.0-1", false},
		{"foo\t", "foo", "", false},
		{"foo\\tbar\t1.0-1", "foo\tbar", "1.0-1", false},
		{"foo", "", "", true},
		{"foo,1,2", "", "", true},
		{",1.0-1", "", "", true},
		{"\t1.0-1", "", "", true},
		{"foo\t1\t2", "", "", true},
		{"foo\\\t1", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, vr, err := parseLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantVR, vr)
		})
	}
}

func TestFileStore_OverlongLineSkipped(t *testing.T) {
	fs, h := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0755))
	content := "foo,1.0-1\n" +
		strings.Repeat("x", 2*maxLineLen) + "\n" +
		"bar\t2.0-1\n"
	require.NoError(t, os.WriteFile(fs.Path(), []byte(content), 0644))

	got, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"foo": "1.0-1", "bar": "2.0-1"}, got)

	require.Len(t, h.Entries, 1)
	assert.Equal(t, log.WarnLevel, h.Entries[0].Level)
	assert.Equal(t, 2, h.Entries[0].Fields["line"])
}

func TestFileStore_OverlongFinalLineWithoutNewline(t *testing.T) {
	fs, _ := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0755))
	content := "foo\t1.0-1\n" + strings.Repeat("x", maxLineLen+1)
	require.NoError(t, os.WriteFile(fs.Path(), []byte(content), 0644))

	got, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{"foo": "1.0-1"}, got)
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("y", 40)+"\nlast"), 16)

	line, tooLong, err := readLine(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "short", line)
	assert.False(t, tooLong)

	line, tooLong, err = readLine(r, 32)
	require.NoError(t, err)
	assert.Empty(t, line)
	assert.True(t, tooLong)

	line, tooLong, err = readLine(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "last", line)
	assert.False(t, tooLong)

	_, _, err = readLine(r, 32)
	assert.Equal(t, io.EOF, err)
}
