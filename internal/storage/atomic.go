package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"

	logx "subwatch/pkg/logx"
)

// WriteFileAtomic replaces path with data so that path always holds either
// the previous or the new content. The previous content is kept at
// path+".old" on a best-effort basis.
func WriteFileAtomic(path string, data []byte, log logx.Logger) error {
	tmp := path + ".tmp"
	old := path + ".old"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(old)
		if err := os.Link(path, old); err != nil {
			if err := copyFile(path, old); err != nil {
				log.Warn("backup failed", logx.String("path", path), logx.Err(err))
			}
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
