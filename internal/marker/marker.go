// Package marker implements the engine marker file check of spec §6: a
// single text file in the data directory naming the active backend,
// written on first open and validated to match on every subsequent open
// regardless of which backend (kvs or sled) is in use.
package marker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/arjunroy/kvs/internal/engineapi"
)

const fileName = "engine"

// schemaVersion is appended as a second line so older, unversioned
// marker files remain readable (SPEC_FULL's Open Question decision:
// an absent version line is treated as version 1).
const schemaVersion = "1"

// CheckOrWrite writes the marker file naming name on first open of dir,
// or validates that an existing marker agrees with name. Returns
// engineapi.ErrEngineMismatch if it disagrees.
func CheckOrWrite(dir string, name engineapi.Name) error {
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		content := string(name) + "\n" + schemaVersion + "\n"

		if werr := atomic.WriteFile(path, strings.NewReader(content)); werr != nil {
			return fmt.Errorf("%w: write engine marker: %v", engineapi.ErrLogInit, werr)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: read engine marker: %v", engineapi.ErrLogInit, err)
	}

	lines := bytes.SplitN(bytes.TrimSpace(data), []byte("\n"), 2)
	got := strings.TrimSpace(string(lines[0]))

	if got != string(name) {
		return fmt.Errorf("%w: data directory was created with engine %q, requested %q", engineapi.ErrEngineMismatch, got, name)
	}

	return nil
}
