package device

import (
	stderr "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gsmcwhirter/go-util/v7/deferutil"
	"github.com/gsmcwhirter/go-util/v7/errors"
)

// Upload walks the local file system image at root and writes every file
// to the device. Files the device cannot create are skipped; anything
// else aborts the upload.
func (c *Client) Upload(root string) error {
	log.Info("Uploading files to device.")

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "could not walk file system image", "path", path)
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.Wrap(err, "could not relativize path", "path", path)
		}
		devPath := "/" + filepath.ToSlash(rel)

		log.Infof(" - Uploading %s -> %s.", path, devPath)

		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "could not open local file", "path", path)
		}
		defer deferutil.CheckDefer(f.Close)

		if werr := c.WriteFile(devPath, f); werr != nil {
			if stderr.Is(werr, ErrFileUnopenable) {
				log.Errorf("Device cannot create/open file %s - skipping.", devPath)
				return nil
			}
			return werr
		}
		return nil
	})
}

// Dump retrieves every file in listing into the local directory at root,
// mirroring the device's file system layout. Files the device cannot
// serve, short reads and checksum failures are skipped.
func (c *Client) Dump(root string, listing []Entry) error {
	log.Info("Dumping files from device.")

	for _, entry := range listing {
		pcPath := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(entry.Path, "/")))
		log.Infof(" - %s -> %s.", entry.Path, pcPath)

		if err := os.MkdirAll(filepath.Dir(pcPath), 0o755); err != nil {
			return errors.Wrap(err, "could not create directory", "path", pcPath)
		}

		contents, err := c.ReadFile(entry.Path, entry.Size)
		if err != nil {
			if stderr.Is(err, ErrFileNotFound) || stderr.Is(err, ErrFileUnopenable) ||
				stderr.Is(err, ErrShortRead) || stderr.Is(err, ErrChecksum) {
				log.Errorf("%s: %v", entry.Path, err)
				continue
			}
			return err
		}

		if err := os.WriteFile(pcPath, contents, 0o644); err != nil {
			return errors.Wrap(err, "could not write local file", "path", pcPath)
		}
	}

	return nil
}
