package main

import "path/filepath"

// parentDir returns the directory portion of path, or "" for a bare
// filename with no directory component (nothing to create).
func parentDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
