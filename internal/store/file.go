package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

// FileStore keeps the snapshot in a flat text file, one package per line:
//
//	name<TAB>version-release
//
// Backslash, tab, carriage return and newline inside a field are escaped.
// Legacy files ("name,version-release") are still
// readable and are rewritten in the current format on the next Save.
type FileStore struct {
	path   string
	logger log.Interface
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string, logger log.Interface) *FileStore {
	return &FileStore{path: path, logger: rlog.OrDiscard(logger)}
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the snapshot file. Malformed lines are logged and skipped.
// A missing file yields ErrNoSnapshot.
func (f *FileStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, f.path)
		}
		return nil, apperrors.WrapWithContext(apperrors.ErrCodePersistence,
			"open snapshot file", err, map[string]any{"path": f.path})
	}
	defer fh.Close()

	snap := snapshot.Snapshot{}
	lineNo := 0
	r := bufio.NewReaderSize(fh, 64*1024)
	for {
		raw, tooLong, err := readLine(r, maxLineLen)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodePersistence,
				"read snapshot file", err, map[string]any{"path": f.path})
		}
		lineNo++

		fields := log.Fields{"path": f.path, "line": lineNo}
		if tooLong {
			f.logger.WithFields(fields).Warnf("skipping snapshot line longer than %d bytes", maxLineLen)
			continue
		}
		line := strings.TrimSuffix(raw, "\r")
		if line == "" {
			continue
		}

		name, vr, err := parseLine(line)
		if err != nil {
			fields["code"] = apperrors.CodeOf(err)
			f.logger.WithFields(fields).WithError(err).Warn("skipping invalid snapshot line")
			continue
		}
		snap[name] = vr
	}

	return snap, nil
}

// maxLineLen bounds a single snapshot record.
const maxLineLen = 1024 * 1024

// readLine returns the next line without its terminator. A line longer than
// max is consumed in full and reported as tooLong with no content.
func readLine(r *bufio.Reader, max int) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > max {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// Save replaces the snapshot file with s. The content is written to a
// temporary file in the same directory and renamed over the old file, so a
// crash never leaves a half-written snapshot behind.
func (f *FileStore) Save(ctx context.Context, s snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wrap := func(msg string, err error) error {
		return apperrors.WrapWithContext(apperrors.ErrCodePersistence, msg, err, map[string]any{"path": f.path})
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrap("create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return wrap("create temp snapshot file", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, name := range s.Names() {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", escapeField(name), escapeField(s[name])); err != nil {
			tmp.Close()
			return wrap("write temp snapshot file", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return wrap("write temp snapshot file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrap("sync temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		return wrap("close temp snapshot file", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return wrap("chmod temp snapshot file", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return wrap("replace snapshot file", err)
	}
	committed = true

	f.logger.WithFields(log.Fields{"path": f.path, "packages": len(s)}).Debug("snapshot saved")
	return nil
}

// parseLine splits one snapshot record. Lines without a tab are read in the
// legacy comma format, which allows exactly one comma.
func parseLine(line string) (string, string, error) {
	var fields []string
	if strings.Contains(line, "\t") {
		fields = strings.Split(line, "\t")
	} else {
		fields = strings.Split(line, ",")
		if len(fields) == 2 {
			fields[1] = strings.TrimRight(fields[1], " \t\r\n")
			if fields[0] == "" {
				return "", "", apperrors.New(apperrors.ErrCodeParse, "empty package name")
			}
			return fields[0], fields[1], nil
		}
	}

	if len(fields) != 2 {
		return "", "", apperrors.New(apperrors.ErrCodeParse,
			fmt.Sprintf("expected 2 fields, got %d", len(fields)))
	}

	name, err := unescapeField(fields[0])
	if err != nil {
		return "", "", err
	}
	vr, err := unescapeField(fields[1])
	if err != nil {
		return "", "", err
	}
	if name == "" {
		return "", "", apperrors.New(apperrors.ErrCodeParse, "empty package name")
	}
	return name, vr, nil
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

func unescapeField(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", apperrors.New(apperrors.ErrCodeParse, "dangling escape at end of field")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", apperrors.New(apperrors.ErrCodeParse, fmt.Sprintf("unknown escape \\%c", s[i]))
		}
	}
	return b.String(), nil
}
