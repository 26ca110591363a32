package mqttc

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Compile-time check that FileStore implements SessionStore.
var _ SessionStore = (*FileStore)(nil)

// safeClientID matches client IDs that may be used as filenames directly.
var safeClientID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	storeFileSuffix = ".json"
	lockFileSuffix  = ".lock"
)

// FileStore persists session snapshots as one JSON document per client ID
// under a base directory. Writes go to a temporary file that is renamed
// into place under an exclusive lock file, so a crash mid-write never
// loads back as a valid snapshot. Client IDs that are not filename-safe
// are rewritten to "mqtt_<sha1-hex>" to keep path separators and traversal
// sequences out of the directory.
type FileStore struct {
	dir         string
	expiry      time.Duration
	permissions os.FileMode
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStoreExpiry sets the default snapshot expiry honoured on load: a
// snapshot older than the expiry is deleted and reported as absent. Zero
// disables expiry.
func WithStoreExpiry(d time.Duration) FileStoreOption {
	return func(f *FileStore) {
		f.expiry = d
	}
}

// WithStorePermissions sets the file mode for stored snapshots.
// Default is 0600.
func WithStorePermissions(perm os.FileMode) FileStoreOption {
	return func(f *FileStore) {
		f.permissions = perm
	}
}

// NewFileStore creates a file-based session store rooted at dir. The
// directory is created if missing.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: directory cannot be empty", ErrSessionStore)
	}

	f := &FileStore{
		dir:         dir,
		permissions: 0o600,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	return f, nil
}

// Filename returns the name (without directory or suffix) used to store
// the given client ID.
func Filename(clientID string) string {
	if safeClientID.MatchString(clientID) {
		return clientID
	}
	sum := sha1.Sum([]byte(clientID))
	return "mqtt_" + hex.EncodeToString(sum[:])
}

func (f *FileStore) path(clientID string) string {
	return filepath.Join(f.dir, Filename(clientID)+storeFileSuffix)
}

// lock takes an exclusive lock for the client ID by creating a lock file
// with O_EXCL, retrying briefly if another process holds it. A lock older
// than a minute is considered stale and broken.
func (f *FileStore) lock(clientID string) (func(), error) {
	lockPath := filepath.Join(f.dir, Filename(clientID)+lockFileSuffix)
	deadline := time.Now().Add(2 * time.Second)

	for {
		fh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fh.Close()
			return func() { os.Remove(lockPath) }, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > time.Minute {
				os.Remove(lockPath)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock held for %s", ErrSessionStore, clientID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Save persists the snapshot for a client ID.
func (f *FileStore) Save(clientID string, state *SessionState) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrSessionStore)
	}

	unlock, err := f.lock(clientID)
	if err != nil {
		return err
	}
	defer unlock()

	state.Stamp()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	path := f.path(clientID)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, f.permissions); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	return nil
}

// Load returns the snapshot for a client ID, or nil when none exists. An
// expired snapshot is deleted and reported as absent; a corrupt file is an
// error, never a partial snapshot.
func (f *FileStore) Load(clientID string) (*SessionState, error) {
	unlock, err := f.lock(clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := f.path(clientID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	if f.expired(&state) {
		os.Remove(path)
		return nil, nil
	}

	if state.Subscriptions == nil {
		state.Subscriptions = make(map[string]SessionSubscription)
	}

	return &state, nil
}

// Delete removes the snapshot for a client ID.
func (f *FileStore) Delete(clientID string) error {
	unlock, err := f.lock(clientID)
	if err != nil {
		return err
	}
	defer unlock()

	err = os.Remove(f.path(clientID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	return nil
}

// Exists reports whether a snapshot is stored for a client ID.
func (f *FileStore) Exists(clientID string) (bool, error) {
	_, err := os.Stat(f.path(clientID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	return true, nil
}

// Cleanup scans the store directory and removes every expired snapshot.
func (f *FileStore) Cleanup() (int, error) {
	if f.expiry <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, storeFileSuffix) {
			continue
		}

		path := filepath.Join(f.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var state SessionState
		if err := json.Unmarshal(data, &state); err != nil {
			// Corrupt files count as expired.
			if os.Remove(path) == nil {
				removed++
			}
			continue
		}

		if f.expired(&state) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func (f *FileStore) expired(state *SessionState) bool {
	if f.expiry <= 0 || state.SavedAt <= 0 {
		return false
	}
	return time.Since(time.Unix(state.SavedAt, 0)) > f.expiry
}
