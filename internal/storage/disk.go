package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsageByPath reports the size of each non-empty path separately.
// SQLite sidecar files (-wal, -shm) are counted with their database.
func DiskUsageByPath(paths ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			extra, err := pathSize(p + suffix)
			if err != nil {
				return nil, err
			}
			n += extra
		}
		out[p] = n
	}
	return out, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
