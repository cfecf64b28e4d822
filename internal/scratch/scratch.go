// Package scratch allocates an isolated working directory for every download
// request so that concurrent requests never share files.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const dirPermissions = 0o755

type Dir struct {
	path string
}

// New creates <root>/<chatID>_<messageID>_<random token>.
func New(root string, chatID int64, messageID int) (*Dir, error) {
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, errors.Wrap(err, "create work directory")
	}

	name := fmt.Sprintf("%d_%d_%s", chatID, messageID, uuid.NewString())
	path := filepath.Join(root, name)
	if err := os.Mkdir(path, dirPermissions); err != nil {
		return nil, errors.Wrap(err, "create scratch directory")
	}

	return &Dir{path: path}, nil
}

func (d *Dir) Path() string {
	return d.path
}

// File returns the path of name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.path, name)
}

// Remove deletes the directory with everything in it.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.path); err != nil {
		return errors.Wrapf(err, "remove %s", d.path)
	}

	return nil
}
