package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blackwell-systems/rpmannotate/internal/annotate"
	"github.com/blackwell-systems/rpmannotate/internal/collector"
	"github.com/blackwell-systems/rpmannotate/internal/config"
	"github.com/blackwell-systems/rpmannotate/internal/influx"
	"github.com/blackwell-systems/rpmannotate/internal/rpm"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
	"github.com/blackwell-systems/rpmannotate/internal/store"
)

// runtimeDeps holds everything a cycle needs, plus what must be closed after.
type runtimeDeps struct {
	Collector *collector.Collector
	Registry  *prometheus.Registry
	Series    string

	closers []func() error
}

// Close releases databases opened by buildDeps.
func (d *runtimeDeps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// buildDeps wires the collector from configuration.
func buildDeps(c *config.Config, l log.Interface, dryRun bool) (*runtimeDeps, error) {
	d := &runtimeDeps{Registry: prometheus.NewRegistry()}
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if !dryRun {
		if err := ensureDir(c.StateDir); err != nil {
			return nil, err
		}
	}

	snapStore, snapDB, err := openStore(c, l, dryRun)
	if err != nil {
		return nil, err
	}
	if snapDB != nil {
		d.closers = append(d.closers, snapDB.Close)
	}

	// A dry run writes nothing: no lock file, no journal row.
	lockFile := c.LockFile
	var journal collector.Journal
	if dryRun {
		lockFile = ""
	} else if c.Journal.Enabled {
		switch {
		case snapDB != nil && filepath.Clean(c.Journal.Path) == filepath.Clean(c.Store.Path):
			journal = snapDB
		default:
			jdb, err := openDB(c.Journal.Path)
			if err != nil {
				l.WithError(err).WithField("path", c.Journal.Path).Warn("cycle journal unavailable")
				break
			}
			d.closers = append(d.closers, jdb.Close)
			journal = jdb
		}
	}

	client, err := influx.New(influx.Options{
		URL:       c.Sink.URL,
		Database:  c.Sink.Database,
		Username:  c.Sink.Username,
		Password:  c.Sink.Password,
		Protocol:  c.Sink.Protocol,
		Precision: c.Sink.Precision,
		Timeout:   c.Sink.Timeout,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Series = annotate.SeriesName(c.Series.Prefix, c.Hostname())

	source := rpm.New(rpm.Options{
		Binary:      c.Source.Binary,
		Mode:        c.Source.Mode,
		Timeout:     c.Source.Timeout,
		DetailLimit: c.Source.DetailLimit,
	}, rpm.ExecRunner, l)

	d.Collector = collector.New(collector.Options{
		Source:   source,
		Store:    snapStore,
		Emitter:  annotate.NewEmitter(client, d.Series, c.Sink.Timeout),
		Journal:  journal,
		Retain:   c.Journal.Retain,
		LockFile: lockFile,
		Metrics:  collector.NewMetrics(d.Registry),
		Logger:   l,
		DryRun:   dryRun,
	})
	return d, nil
}

// openStore returns the configured snapshot store. For the sqlite backend
// the underlying DB is returned too so it can double as the journal.
// A dry run never creates the database.
func openStore(c *config.Config, l log.Interface, dryRun bool) (store.Store, *store.DB, error) {
	switch c.Store.Backend {
	case store.BackendSQLite:
		if dryRun {
			if _, err := os.Stat(c.Store.Path); errors.Is(err, os.ErrNotExist) {
				return noSnapshot{path: c.Store.Path}, nil, nil
			}
		}
		db, err := openDB(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return store.NewFileStore(c.Store.Path, l), nil, nil
	}
}

// noSnapshot stands in for a database that has not been created yet.
type noSnapshot struct {
	path string
}

func (n noSnapshot) Load(context.Context) (snapshot.Snapshot, error) {
	return nil, fmt.Errorf("%w: %s", store.ErrNoSnapshot, n.path)
}

func (n noSnapshot) Save(context.Context, snapshot.Snapshot) error {
	return fmt.Errorf("snapshot database %s not opened", n.path)
}

func openDB(path string) (*store.DB, error) {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return db, nil
}
