package relocate

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/scopetools/beamline/errors"
)

// moveTree moves a directory tree, preferring an atomic rename and falling
// back to copy-then-delete when source and destination sit on different
// devices. The fallback checks the context between files so a timed-out
// move stops instead of grinding on.
func moveTree(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "failed to create destination parent")
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyTree(ctx, src, dst); err != nil {
		// Leave whatever was copied; a retry overwrites file by file
		return err
	}
	if err := os.RemoveAll(src); err != nil {
		return errors.Wrapf(err, "copied but failed to remove source %s", src)
	}
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "move cancelled")
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			// Symlinks and specials are not expected in project trees
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to copy %s", src)
	}
	return out.Close()
}
