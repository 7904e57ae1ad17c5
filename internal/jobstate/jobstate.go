// Package jobstate persists the resolved resource list and kept metadata
// between runs. Presence of the state file pair is the sole resume signal:
// a later run that finds both files skips resolution entirely.
package jobstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendatahub/catalog-harvester/internal/catalog"
)

const (
	refsFile     = "rsc_url.json"
	metadataFile = "metadata.json"
)

var (
	// ErrNoState is returned when no prior state exists.
	ErrNoState = errors.New("no job state found")

	// ErrCorrupt marks unreadable cached state. It is fatal for the run:
	// the operator must delete the metadata directory to force a clean
	// re-resolve. State is never partially trusted or merged.
	ErrCorrupt = errors.New("corrupt job state")
)

// ResourceRef is one resolved (resourceId, url) pair. On disk it is a
// two-element JSON array, matching the rsc_url.json document format.
type ResourceRef struct {
	ID  string
	URL string
}

// MarshalJSON encodes the ref as ["id", "url"].
func (r ResourceRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.ID, r.URL})
}

// UnmarshalJSON decodes the ["id", "url"] pair form.
func (r *ResourceRef) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	r.ID, r.URL = pair[0], pair[1]
	return nil
}

// State is the resolved output of one resolution pass.
type State struct {
	Refs []ResourceRef
	Kept []catalog.Entry
}

// Store reads and writes job state under a metadata directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir (conventionally
// <destination>/metadata).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// RefsPath returns the on-disk path of the resource list document.
func (s *Store) RefsPath() string {
	return filepath.Join(s.dir, refsFile)
}

// MetadataPath returns the on-disk path of the kept-metadata document.
func (s *Store) MetadataPath() string {
	return filepath.Join(s.dir, metadataFile)
}

// Load reads prior state. ErrNoState is returned when neither file exists.
// A file pair that is present but unreadable, or only half present, wraps
// ErrCorrupt.
func (s *Store) Load() (*State, error) {
	refsData, refsErr := os.ReadFile(s.RefsPath())
	metaData, metaErr := os.ReadFile(s.MetadataPath())

	refsMissing := refsErr != nil && os.IsNotExist(refsErr)
	metaMissing := metaErr != nil && os.IsNotExist(metaErr)

	switch {
	case refsMissing && metaMissing:
		return nil, ErrNoState
	case refsMissing || metaMissing:
		return nil, fmt.Errorf("%w: state file pair incomplete under %s", ErrCorrupt, s.dir)
	case refsErr != nil:
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.RefsPath(), refsErr)
	case metaErr != nil:
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.MetadataPath(), metaErr)
	}

	var st State
	if err := json.Unmarshal(refsData, &st.Refs); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, s.RefsPath(), err)
	}
	if err := json.Unmarshal(metaData, &st.Kept); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, s.MetadataPath(), err)
	}
	return &st, nil
}

// Save persists the state. The resource list is always written so a later
// run can resume; the kept-metadata document is written only when
// withMetadata is set. Writes are atomic via temp file + rename.
func (s *Store) Save(st *State, withMetadata bool) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory %s: %w", s.dir, err)
	}

	if err := writeJSON(s.RefsPath(), st.Refs); err != nil {
		return fmt.Errorf("write resource list: %w", err)
	}

	if withMetadata {
		if err := writeJSON(s.MetadataPath(), st.Kept); err != nil {
			return fmt.Errorf("write kept metadata: %w", err)
		}
	} else {
		// Resume requires the file pair, so an empty metadata document is
		// still written when none exists yet.
		if _, err := os.Stat(s.MetadataPath()); os.IsNotExist(err) {
			if err := writeJSON(s.MetadataPath(), []catalog.Entry{}); err != nil {
				return fmt.Errorf("write kept metadata: %w", err)
			}
		}
	}

	return nil
}

// writeJSON marshals v and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}
