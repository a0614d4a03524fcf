// Package atomicstore implements the write-temp-then-rename primitive used
// by every persisted entity in foreman: write to a uniquely-suffixed temp
// file in the destination directory, then os.Rename into place so
// concurrent readers never observe a partial write.
package atomicstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logThrottle rate-limits "malformed JSON" log lines to once per type per
// minute; a malformed file is treated as missing and logged once per type
// per minute, never repeatedly.
var (
	throttleMu   sync.Mutex
	lastLoggedAt = map[string]time.Time{}
)

func logMalformedOnce(kind, path string, err error) {
	throttleMu.Lock()
	defer throttleMu.Unlock()
	if t, ok := lastLoggedAt[kind]; ok && time.Since(t) < time.Minute {
		return
	}
	lastLoggedAt[kind] = time.Now()
	log.Printf("atomicstore: malformed %s at %s, treating as missing: %v", kind, path, err)
}

func randomSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// EnsureDir idempotently creates a directory and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensuring directory %s: %w", dir, err)
	}
	return nil
}

// WriteJSON marshals v as indented JSON and writes it atomically to path:
// write to a temp file in the same directory, then rename into place.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", filepath.Base(path), randomSuffix()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming into place %s: %w", path, err)
	}
	return nil
}

// WriteText writes plain-text content atomically, via the same
// write-temp-then-rename primitive as WriteJSON. Used for non-JSON
// artifacts such as inbox.md.
func WriteText(path, content string) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", filepath.Base(path), randomSuffix()))
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming into place %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the JSON file at path into v. A missing file
// returns (false, nil) — "reads never throw" A malformed
// file is treated as missing: it returns (false, nil) and logs once per
// kind per minute.
func ReadJSON(path string, v any, kind string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		logMalformedOnce(kind, path, err)
		return false, nil
	}
	return true, nil
}
