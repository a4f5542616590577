package pstore

import (
	"encoding/json"
	"time"
)

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// FindProviderSearchPaths looks up a cached module-provider result.
func (s *Store) FindProviderSearchPaths(providerName, configHash string, shape int) ([]string, bool) {
	var pathsJSON string
	err := s.db.QueryRow(`SELECT search_paths_json FROM module_provider_cache
		WHERE provider_name = ? AND config_hash = ? AND lookup_shape = ?`,
		providerName, configHash, shape).Scan(&pathsJSON)
	if err != nil {
		return nil, false
	}
	var paths []string
	_ = json.Unmarshal([]byte(pathsJSON), &paths)
	return paths, true
}

// SaveProviderSearchPaths caches a module-provider result.
func (s *Store) SaveProviderSearchPaths(providerName, configHash string, shape int, providerFile string, paths []string) error {
	b, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO module_provider_cache(provider_name, config_hash, lookup_shape, provider_file, search_paths_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_name, config_hash, lookup_shape) DO UPDATE SET
			provider_file=excluded.provider_file, search_paths_json=excluded.search_paths_json`,
		providerName, configHash, shape, providerFile, string(b))
	return err
}

// RecordObservation logs one host file-system primitive result
// (canonicalize/exists/readdir/mtime), replaying spec §6's four host
// primitives for change detection across Setup runs.
func (s *Store) RecordObservation(path, kind string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO fs_observations(path, kind, result_json, observed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path, kind) DO UPDATE SET result_json=excluded.result_json, observed_at=excluded.observed_at`,
		path, kind, string(b), time.Now().Unix())
	return err
}

// BuildConfigValue reads one key from the build-configuration snapshot
// used to detect a changed overlay between Setup runs.
func (s *Store) BuildConfigValue(key string) (string, bool) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM build_config_snapshot WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

// SetBuildConfigValue writes one key into the build-configuration
// snapshot.
func (s *Store) SetBuildConfigValue(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO build_config_snapshot(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}
