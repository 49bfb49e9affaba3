package action

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// intoDir places src inside dst when dst is an existing directory
func (e *Executor) intoDir(dst, src string) string {
	if fi, err := e.fs.Stat(dst); err == nil && fi.IsDir() {
		return filepath.Join(dst, filepath.Base(src))
	}
	return dst
}

func (e *Executor) copy(src, dst string) Result {
	info, err := e.fs.Stat(src)
	if err != nil {
		return failure(err)
	}
	if info.IsDir() {
		err = e.copyTree(src, dst)
	} else {
		err = e.copyFile(src, e.intoDir(dst, src), info)
	}
	if err != nil {
		return failure(err)
	}
	return done("Copy completed.")
}

// copyFile copies contents, permissions and modification time
func (e *Executor) copyFile(src, dst string, info os.FileInfo) error {
	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := e.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := e.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return e.fs.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copyTree merges src into dst, overwriting files that already exist
func (e *Executor) copyTree(src, dst string) error {
	return afero.Walk(e.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return e.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return e.copyFile(path, target, info)
	})
}

func (e *Executor) move(src, dst string) Result {
	info, err := e.fs.Stat(src)
	if err != nil {
		return failure(err)
	}
	dst = e.intoDir(dst, src)
	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return failure(err)
	}
	if err := e.fs.Rename(src, dst); err != nil {
		// Rename fails across devices; fall back to copy and remove.
		if info.IsDir() {
			err = e.copyTree(src, dst)
		} else {
			err = e.copyFile(src, dst, info)
		}
		if err != nil {
			return failure(err)
		}
		if err := e.fs.RemoveAll(src); err != nil {
			return failure(err)
		}
	}
	return done("Move completed.")
}

func (e *Executor) delete(target string) Result {
	info, err := e.fs.Stat(target)
	if err != nil {
		return failure(err)
	}
	if info.IsDir() {
		err = e.fs.RemoveAll(target)
	} else {
		err = e.fs.Remove(target)
	}
	if err != nil {
		return failure(err)
	}
	return done("Delete completed.")
}

func (e *Executor) zip(src, dst string) Result {
	info, err := e.fs.Stat(src)
	if err != nil {
		return failure(err)
	}
	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return failure(err)
	}
	f, err := e.fs.Create(dst)
	if err != nil {
		return failure(err)
	}

	zw := zip.NewWriter(f)
	if info.IsDir() {
		err = afero.Walk(e.fs, src, func(path string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if fi.IsDir() || filepath.Clean(path) == filepath.Clean(dst) {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			return e.addToZip(zw, path, rel, fi)
		})
	} else {
		err = e.addToZip(zw, src, filepath.Base(src), info)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return failure(err)
	}
	return done("Zip completed.")
}

func (e *Executor) addToZip(zw *zip.Writer, path, name string, info os.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	in, err := e.fs.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// download streams url into dst. A failed transfer leaves whatever was
// written at dst in place.
func (e *Executor) download(ctx context.Context, url, dst string) Result {
	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return failure(err)
	}
	f, err := e.fs.Create(dst)
	if err != nil {
		return failure(err)
	}
	_, err = e.http.Download(ctx, url, f, e.downloadRetries)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "failed to close download")
	}
	if err != nil {
		return failure(err)
	}
	return done("Download completed.")
}
