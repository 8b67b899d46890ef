package rpm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/apex/log"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

// queryFormat makes `rpm -qa` print one tab-separated record per package.
const queryFormat = `%{NAME}\t%{VERSION}\t%{RELEASE}\n`

// Runner executes binary with args and returns its stdout and stderr.
// A non-nil error means the process could not be started or exited non-zero.
type Runner func(ctx context.Context, binary string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, binary string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// RPM reads the installed package set from the rpm database.
type RPM struct {
	opts   Options
	run    Runner
	logger log.Interface
}

// New creates an rpm Source. A nil runner uses ExecRunner.
func New(opts Options, run Runner, logger log.Interface) *RPM {
	def := DefaultOptions()
	if opts.Binary == "" {
		opts.Binary = def.Binary
	}
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if run == nil {
		run = ExecRunner
	}
	return &RPM{opts: opts, run: run, logger: rlog.OrDiscard(logger)}
}

// Snapshot returns name -> version-release for every installed package.
// Records that cannot be parsed are skipped. The whole enumeration is bounded
// by the configured timeout.
func (r *RPM) Snapshot(ctx context.Context) (snapshot.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var (
		pkgs    []Package
		skipped int
		err     error
	)
	switch r.opts.Mode {
	case ModeQuery:
		pkgs, skipped, err = r.listFormatted(ctx)
	case ModeDetail:
		pkgs, skipped, err = r.listDetailed(ctx)
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfig, fmt.Sprintf("unknown rpm query mode %q", r.opts.Mode))
	}
	if err != nil {
		return nil, err
	}

	snap := make(snapshot.Snapshot, len(pkgs))
	for _, p := range pkgs {
		snap[p.Name] = p.VersionRelease()
	}

	r.logger.WithFields(log.Fields{
		"packages": len(snap),
		"skipped":  skipped,
		"mode":     r.opts.Mode,
	}).Debug("enumerated installed packages")

	return snap, nil
}

func (r *RPM) query(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := r.run(ctx, r.opts.Binary, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodePackageSource,
			fmt.Sprintf("rpm %s timed out", strings.Join(args, " ")), ctxErr,
			map[string]any{"timeout": r.opts.Timeout.String()})
	}
	if err != nil {
		msg := fmt.Sprintf("rpm %s failed", strings.Join(args, " "))
		if s := strings.TrimSpace(string(stderr)); s != "" {
			msg = fmt.Sprintf("%s (stderr: %s)", msg, s)
		}
		return nil, apperrors.Wrap(apperrors.ErrCodePackageSource, msg, err)
	}
	if s := strings.TrimSpace(string(stderr)); s != "" {
		r.logger.WithField("stderr", s).Warnf("rpm %s reported errors", args[0])
	}
	return stdout, nil
}

func (r *RPM) listFormatted(ctx context.Context) ([]Package, int, error) {
	out, err := r.query(ctx, "-qa", "--queryformat", queryFormat)
	if err != nil {
		return nil, 0, err
	}

	var pkgs []Package
	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		p, ok := parseQueryLine(line)
		if !ok {
			skipped++
			r.logger.WithField("line", line).Debug("skipping unparsable rpm record")
			continue
		}
		pkgs = append(pkgs, p)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrCodePackageSource, "read rpm output", err)
	}
	return pkgs, skipped, nil
}

func (r *RPM) listDetailed(ctx context.Context) ([]Package, int, error) {
	out, err := r.query(ctx, "-qa")
	if err != nil {
		return nil, 0, err
	}

	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}

	if r.opts.DetailLimit > 0 && len(ids) > r.opts.DetailLimit {
		return nil, 0, apperrors.WrapWithContext(apperrors.ErrCodePackageSource,
			fmt.Sprintf("%d installed packages exceed the detail query limit of %d", len(ids), r.opts.DetailLimit),
			nil, map[string]any{"packages": len(ids), "limit": r.opts.DetailLimit})
	}

	var pkgs []Package
	skipped := 0
	for _, id := range ids {
		info, err := r.query(ctx, "-qi", id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}
			skipped++
			r.logger.WithError(err).WithField("package", id).Warn("skipping package, rpm -qi failed")
			continue
		}
		p, ok := parseInfo(info)
		if !ok {
			skipped++
			r.logger.WithField("package", id).Debug("skipping package with unparsable rpm -qi output")
			continue
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, skipped, nil
}

// parseQueryLine parses "name\tversion\trelease".
func parseQueryLine(line string) (Package, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return Package{}, false
	}
	p := Package{
		Name:    strings.TrimSpace(fields[0]),
		Version: strings.TrimSpace(fields[1]),
		Release: strings.TrimSpace(fields[2]),
	}
	if p.Name == "" || p.Version == "" || p.Release == "" {
		return Package{}, false
	}
	if p.Version == "(none)" || p.Release == "(none)" {
		return Package{}, false
	}
	return p, true
}

// Each header value must be a single token running to the end of the line,
// so names like libstdc++ and versions like 1.2~rc1 are kept whole.
var (
	nameRe    = regexp.MustCompile(`(?i)^Name\s*:\s*(\S+)\s*$`)
	versionRe = regexp.MustCompile(`(?i)^Version\s*:\s*(\S+)\s*$`)
	releaseRe = regexp.MustCompile(`(?i)^Release\s*:\s*(\S+)\s*$`)
)

// parseInfo extracts name, version and release from `rpm -qi` output.
//
//	Name        : bash
//	Version     : 5.1.8
//	Release     : 6.el9_1
//	Architecture: x86_64
func parseInfo(out []byte) (Package, bool) {
	var p Package
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if p.Name == "" {
			if m := nameRe.FindStringSubmatch(line); m != nil {
				p.Name = m[1]
				continue
			}
		}
		if p.Version == "" {
			if m := versionRe.FindStringSubmatch(line); m != nil {
				p.Version = m[1]
				continue
			}
		}
		if p.Release == "" {
			if m := releaseRe.FindStringSubmatch(line); m != nil {
				p.Release = m[1]
			}
		}
	}
	if p.Name == "" || p.Version == "" || p.Release == "" {
		return Package{}, false
	}
	return p, true
}
