package checkout

import (
	"os"

	"golang.org/x/sys/unix"
)

// reflinkFile attempts a copy-on-write clone of src onto dst via the
// FICLONE ioctl (btrfs, xfs, and overlayfs-over-those support it).
// Callers treat any error as "fall back to a byte copy" — this is not
// meant to distinguish "not supported" from other failures.
func reflinkFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
