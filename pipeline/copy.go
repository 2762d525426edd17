package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// copyFile copies src to dst unless dst already exists. Permission bits and
// modification time are carried over. A partially written dst is removed.
func copyFile(src, dst string) (copied bool, err error) {
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", dst, err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return false, fmt.Errorf("copy %s: %w", src, err)
	}
	if err = out.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", dst, err)
	}
	// umask may have narrowed the mode at create time
	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return false, fmt.Errorf("chtimes %s: %w", dst, err)
	}
	return true, nil
}
