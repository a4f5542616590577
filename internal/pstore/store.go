// Package pstore is the loader's persistence layer: stored probes, the
// module-provider cache, the file-system observation log, and the
// profile table all live in one SQLite file, matching the teacher's "one
// *store.Store for everything" shape (SPEC_FULL.md §1.1, §3.1).
package pstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qploader/qploader/internal/probes"
	"github.com/qploader/qploader/internal/profile"
	"github.com/qploader/qploader/loaderrors"
)

const schemaVersion = "1"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	name        TEXT PRIMARY KEY,
	base_name   TEXT NOT NULL DEFAULT '',
	properties_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS probes_project (
	global_id        TEXT PRIMARY KEY,
	condition        INTEGER NOT NULL,
	configure_sha256 TEXT NOT NULL,
	properties_json  TEXT NOT NULL,
	initial_properties_json TEXT NOT NULL,
	imported_files_json TEXT NOT NULL,
	resolved_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS probes_product (
	unique_product_name TEXT NOT NULL,
	global_id           TEXT NOT NULL,
	condition           INTEGER NOT NULL,
	configure_sha256    TEXT NOT NULL,
	properties_json     TEXT NOT NULL,
	initial_properties_json TEXT NOT NULL,
	imported_files_json TEXT NOT NULL,
	resolved_at         INTEGER NOT NULL,
	PRIMARY KEY (unique_product_name, global_id)
);

CREATE TABLE IF NOT EXISTS module_provider_cache (
	provider_name  TEXT NOT NULL,
	config_hash    TEXT NOT NULL,
	lookup_shape   INTEGER NOT NULL,
	provider_file  TEXT NOT NULL,
	search_paths_json TEXT NOT NULL,
	transient_output  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (provider_name, config_hash, lookup_shape)
);

CREATE TABLE IF NOT EXISTS fs_observations (
	path        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	result_json TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	PRIMARY KEY (path, kind)
);

CREATE TABLE IF NOT EXISTS build_config_snapshot (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store wraps a *sql.DB backed by go-sqlite3, mirroring the teacher's
// Store type in shape (open with WAL + foreign keys + busy timeout,
// Migrate() running a schema-as-constant DDL block).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		var nf *loaderrors.NotFoundError
		if errors.As(err, &nf) {
			nf.Path = path
		}
		return nil, err
	}
	return s, nil
}

// Migrate creates every table the loader needs and checks the stored
// schema version against the version this build expects, returning a
// *loaderrors.NotFoundError on an incompatible file format (Open fills
// in the database path).
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO metadata(key, value) VALUES ('schema_version', ?)`, schemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case stored != schemaVersion:
		return &loaderrors.NotFoundError{Message: fmt.Sprintf("incompatible build-graph store: have schema %s, want %s", stored, schemaVersion)}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- probes.Store ---

func (s *Store) FindProjectProbe(globalID string) (*probes.Result, bool) {
	row := s.db.QueryRow(`SELECT condition, configure_sha256, properties_json, initial_properties_json, imported_files_json, resolved_at
		FROM probes_project WHERE global_id = ?`, globalID)
	return scanProbeRow(row, globalID)
}

func (s *Store) FindProductProbe(productName, globalID string) (*probes.Result, bool) {
	row := s.db.QueryRow(`SELECT condition, configure_sha256, properties_json, initial_properties_json, imported_files_json, resolved_at
		FROM probes_product WHERE unique_product_name = ? AND global_id = ?`, productName, globalID)
	return scanProbeRow(row, globalID)
}

func (s *Store) SaveProjectProbe(r *probes.Result) error {
	props, initial, files, err := marshalProbe(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO probes_project(global_id, condition, configure_sha256, properties_json, initial_properties_json, imported_files_json, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(global_id) DO UPDATE SET condition=excluded.condition, configure_sha256=excluded.configure_sha256,
			properties_json=excluded.properties_json, initial_properties_json=excluded.initial_properties_json,
			imported_files_json=excluded.imported_files_json, resolved_at=excluded.resolved_at`,
		r.GlobalID, r.Condition, r.ConfigureSHA256, props, initial, files, r.ResolvedAt.Unix())
	return err
}

func (s *Store) SaveProductProbe(productName string, r *probes.Result) error {
	props, initial, files, err := marshalProbe(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO probes_product(unique_product_name, global_id, condition, configure_sha256, properties_json, initial_properties_json, imported_files_json, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_product_name, global_id) DO UPDATE SET condition=excluded.condition, configure_sha256=excluded.configure_sha256,
			properties_json=excluded.properties_json, initial_properties_json=excluded.initial_properties_json,
			imported_files_json=excluded.imported_files_json, resolved_at=excluded.resolved_at`,
		productName, r.GlobalID, r.Condition, r.ConfigureSHA256, props, initial, files, r.ResolvedAt.Unix())
	return err
}

func marshalProbe(r *probes.Result) (props, initial, files string, err error) {
	pb, err := json.Marshal(r.Properties)
	if err != nil {
		return "", "", "", err
	}
	ib, err := json.Marshal(r.InitialProperties)
	if err != nil {
		return "", "", "", err
	}
	fb, err := json.Marshal(r.ImportedFiles)
	if err != nil {
		return "", "", "", err
	}
	return string(pb), string(ib), string(fb), nil
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanProbeRow(row scannableRow, globalID string) (*probes.Result, bool) {
	var (
		condition  bool
		configHash string
		propsJSON  string
		initJSON   string
		filesJSON  string
		resolvedAt int64
	)
	if err := row.Scan(&condition, &configHash, &propsJSON, &initJSON, &filesJSON, &resolvedAt); err != nil {
		return nil, false
	}

	r := &probes.Result{GlobalID: globalID, Condition: condition, ConfigureSHA256: configHash}
	_ = json.Unmarshal([]byte(propsJSON), &r.Properties)
	_ = json.Unmarshal([]byte(initJSON), &r.InitialProperties)
	_ = json.Unmarshal([]byte(filesJSON), &r.ImportedFiles)
	r.ResolvedAt = unixTime(resolvedAt)
	return r, true
}

// --- profile.Store ---

func (s *Store) FindProfile(name string) (profile.Profile, bool) {
	var baseName, propsJSON string
	err := s.db.QueryRow(`SELECT base_name, properties_json FROM profiles WHERE name = ?`, name).Scan(&baseName, &propsJSON)
	if err != nil {
		return profile.Profile{}, false
	}
	p := profile.Profile{Name: name, BaseName: baseName, Properties: make(map[string]any)}
	_ = json.Unmarshal([]byte(propsJSON), &p.Properties)
	return p, true
}

// SaveProfile upserts a profile definition.
func (s *Store) SaveProfile(p profile.Profile) error {
	b, err := json.Marshal(p.Properties)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO profiles(name, base_name, properties_json) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET base_name=excluded.base_name, properties_json=excluded.properties_json`,
		p.Name, p.BaseName, string(b))
	return err
}
