package hvsc

import (
	"os"
	"path/filepath"
)

// FindRoot locates the HVSC collection root starting from filename (a
// tune file or a directory inside the collection), the way acid64
// does: look for STIL.txt directly, then under C64Music/DOCUMENTS,
// then walk upward looking for a DOCUMENTS/STIL.txt. Returns "" if no
// collection root is found.
func FindRoot(filename string) string {
	path := filename
	if info, err := os.Stat(filename); err == nil && !info.IsDir() {
		path = filepath.Dir(filename)
	}

	if exists(filepath.Join(path, "STIL.txt")) {
		return filepath.Dir(filepath.Dir(filepath.Join(path, "STIL.txt")))
	}

	if exists(filepath.Join(path, "C64Music", "DOCUMENTS", "STIL.txt")) {
		return filepath.Join(path, "C64Music")
	}

	for {
		if exists(filepath.Join(path, "DOCUMENTS", "STIL.txt")) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return ""
		}
		path = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
