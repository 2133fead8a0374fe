package utils

import (
	"io"
	"os"
	"path/filepath"
)

// NormPath converts a relative path to forward slashes regardless of platform.
func NormPath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// CopyFile copies a file from src to dst
func CopyFile(src, dst string) error {
	// Ensure the destination directory exists
	if err := EnsureParent(dst); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
