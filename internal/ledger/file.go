package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// File stores one JSON file per profile under a directory. Writes go
// through a temp file and rename so a crash never leaves a partially
// written snapshot behind.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("empty snapshot directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot directory").With("dir", dir)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(profile string) string {
	return filepath.Join(f.dir, profile+".json")
}

func (f *File) Save(_ context.Context, snap *schema.Snapshot) error {
	if snap == nil || snap.Profile == "" {
		return errors.New("snapshot has no profile")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	tmp, err := os.CreateTemp(f.dir, snap.Profile+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temp snapshot")
	}
	if err := os.Rename(tmp.Name(), f.path(snap.Profile)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "rename snapshot").With("profile", snap.Profile)
	}
	return nil
}

func (f *File) Load(_ context.Context, profile string) (*schema.Snapshot, error) {
	data, err := os.ReadFile(f.path(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, "load profile").With("profile", profile)
		}
		return nil, errors.Wrap(err, "read snapshot").With("profile", profile)
	}
	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot").With("profile", profile)
	}
	return &snap, nil
}

func (f *File) Delete(_ context.Context, profile string) error {
	if err := os.Remove(f.path(profile)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove snapshot").With("profile", profile)
	}
	return nil
}

func (f *File) Profiles(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot directory").With("dir", f.dir)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (f *File) Close() error { return nil }
