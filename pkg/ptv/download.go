package ptv

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gsmcwhirter/go-util/v7/deferutil"
	"github.com/gsmcwhirter/go-util/v7/errors"

	logger "github.com/itsmevjnk/StopAlert-companion/log"
)

// DefaultDatasetURL is the PTV timetable/geolocation GTFS bundle source.
const DefaultDatasetURL = "https://data.ptv.vic.gov.au/downloads/gtfs.zip"

var log = logger.Get().WithField("prefix", "PTV")

var ErrUnknownMode = errors.New("unknown public transport mode")

// Downloader retrieves the PTV GTFS bundle and extracts per-mode datasets
// out of it. The bundle is a zip whose members are themselves zips, one
// per mode, named "<modeID>/google_transit.zip".
type Downloader struct {
	URL    string
	Client *http.Client
}

func NewDownloader(url string) *Downloader {
	if url == "" {
		url = DefaultDatasetURL
	}
	return &Downloader{
		URL:    url,
		Client: http.DefaultClient,
	}
}

// FetchBundle downloads the full GTFS bundle into memory.
func (d *Downloader) FetchBundle(ctx context.Context) ([]byte, error) {
	log.Infof("Downloading GTFS datasets from %s", d.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build bundle request")
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not download bundle", "url", d.URL)
	}
	defer deferutil.CheckDefer(resp.Body.Close)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithDetails(errors.New("unexpected status code from dataset server"), "status", strconv.Itoa(resp.StatusCode))
	}

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not read bundle contents")
	}

	log.Debugf("Bundle size: %s", humanize.Bytes(uint64(len(contents))))

	return contents, nil
}

// ModeArchives extracts the nested dataset zips for the given modes from
// a bundle, keyed by mode name.
func ModeArchives(bundle []byte, modes []string) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return nil, errors.Wrap(err, "could not open bundle zip")
	}

	archives := make(map[string][]byte, len(modes))
	for _, name := range modes {
		mode, ok := ModeByName(name)
		if !ok {
			return nil, errors.Wrap(ErrUnknownMode, "mode not in bundle table", "mode", name)
		}

		member := strconv.Itoa(mode.ID) + "/google_transit.zip"
		f, err := zr.Open(member)
		if err != nil {
			return nil, errors.Wrap(err, "could not open bundle member", "member", member)
		}

		contents, err := io.ReadAll(f)
		cerr := f.Close()
		if err != nil {
			return nil, errors.Wrap(err, "could not read bundle member", "member", member)
		}
		if cerr != nil {
			return nil, errors.Wrap(cerr, "could not close bundle member", "member", member)
		}

		log.Debugf("Extracted %s (ID %d): %s", name, mode.ID, humanize.Bytes(uint64(len(contents))))
		archives[name] = contents
	}

	return archives, nil
}

// DownloadDatasets fetches the bundle and extracts each requested mode's
// dataset into its own directory under path ("<path>/<mode>/*.txt").
func (d *Downloader) DownloadDatasets(ctx context.Context, modes []string, path string) error {
	bundle, err := d.FetchBundle(ctx)
	if err != nil {
		return err
	}

	archives, err := ModeArchives(bundle, modes)
	if err != nil {
		return err
	}

	for _, mode := range modes {
		outPath := filepath.Join(path, mode)
		log.Infof("Extracting %s dataset to %s", mode, outPath)
		if err := extractArchive(archives[mode], outPath); err != nil {
			return errors.Wrap(err, "could not extract dataset", "mode", mode)
		}
	}

	return nil
}

func extractArchive(archive []byte, outPath string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return errors.Wrap(err, "could not open dataset zip")
	}

	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return errors.Wrap(err, "could not create dataset directory", "path", outPath)
	}

	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}

		if err := extractMember(member, outPath); err != nil {
			return err
		}
	}

	return nil
}

func extractMember(member *zip.File, outPath string) error {
	// feed members are flat files; anything else is not ours to write
	name := filepath.Base(member.Name)

	src, err := member.Open()
	if err != nil {
		return errors.Wrap(err, "could not open dataset member", "member", member.Name)
	}
	defer deferutil.CheckDefer(src.Close)

	dst, err := os.Create(filepath.Join(outPath, name))
	if err != nil {
		return errors.Wrap(err, "could not create dataset file", "member", member.Name)
	}

	_, err = io.Copy(dst, src)
	cerr := dst.Close()
	if err != nil {
		return errors.Wrap(err, "could not write dataset file", "member", member.Name)
	}
	if cerr != nil {
		return errors.Wrap(cerr, "could not close dataset file", "member", member.Name)
	}

	return nil
}
