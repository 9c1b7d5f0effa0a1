// Package spiffs generates the directory tree that gets uploaded to the
// stop alert device's SPIFFS file system.
package spiffs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gsmcwhirter/go-util/v7/deferutil"
	"github.com/gsmcwhirter/go-util/v7/errors"
	"golang.org/x/sync/errgroup"

	logger "github.com/itsmevjnk/StopAlert-companion/log"
	"github.com/itsmevjnk/StopAlert-companion/pkg/gtfs"
	"github.com/itsmevjnk/StopAlert-companion/pkg/ptv"
)

var log = logger.Get().WithField("prefix", "FSGEN")

var (
	ErrNotDirectory = errors.New("file system root is not a directory")
	ErrUnknownMode  = errors.New("unknown public transport mode")
	ErrStopName     = errors.New("stop name is not representable in ASCII")
)

// suburb parenthetical at the end of PTV stop names
var suburbSuffix = regexp.MustCompile(`\(.*\)$`)

// Generator builds a device file system image from per-mode GTFS datasets.
type Generator struct {
	Root       string    // image output directory
	DatasetDir string    // directory holding per-mode feed directories
	Now        time.Time // datestamp source for the networks file
}

// PrepareRoot creates the image root if needed and removes its contents.
func PrepareRoot(root string) error {
	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		log.Debugf("Creating file system root directory at %s", root)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return errors.Wrap(err, "could not create file system root", "path", root)
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "could not stat file system root", "path", root)
	case !info.IsDir():
		return errors.Wrap(ErrNotDirectory, "refusing to clear", "path", root)
	}

	log.Debugf("Removing contents of %s", root)
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrap(err, "could not read file system root", "path", root)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return errors.Wrap(err, "could not remove entry", "entry", entry.Name())
		}
	}

	return nil
}

// Generate builds the image for the selected routes of each mode, then
// writes the networks index. The root must already be prepared.
func (g *Generator) Generate(selections map[string][]string) error {
	datestamp := g.Now.UTC().Format("20060102")
	log.Debugf("Dataset update datestamp: %s", datestamp)

	// fixed mode order keeps the networks file stable between runs
	var selected []ptv.Mode
	for _, mode := range ptv.Modes {
		if _, ok := selections[mode.Name]; ok {
			selected = append(selected, mode)
		}
	}
	if len(selected) != len(selections) {
		for name := range selections {
			if _, ok := ptv.ModeByName(name); !ok {
				return errors.Wrap(ErrUnknownMode, "mode not selectable", "mode", name)
			}
		}
	}

	eg := errgroup.Group{}
	eg.SetLimit(4)

	for _, mode := range selected {
		mode := mode
		eg.Go(func() error {
			return g.generateMode(mode, selections[mode.Name])
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	log.Info("Writing networks file to disk.")
	var networks bytes.Buffer
	for _, mode := range selected {
		fmt.Fprintf(&networks, "%d:%s:%s\n", mode.ID, datestamp, mode.Display)
	}
	if err := writeFile(filepath.Join(g.Root, "networks"), networks.Bytes()); err != nil {
		return err
	}

	return nil
}

func (g *Generator) generateMode(mode ptv.Mode, routeNums []string) error {
	log.Infof("Generating dataset for %s (ID %d) route(s) %s.", mode.Display, mode.ID, strings.Join(routeNums, ", "))

	modePath := filepath.Join(g.Root, strconv.Itoa(mode.ID))
	if err := os.MkdirAll(modePath, 0o755); err != nil {
		return errors.Wrap(err, "could not create dataset directory", "path", modePath)
	}

	feed := gtfs.Open(filepath.Join(g.DatasetDir, mode.Name))

	log.Info(" - Getting list of routes.")
	routesInfo, err := feed.Routes()
	if err != nil {
		return errors.Wrap(err, "could not read routes", "mode", mode.Name)
	}

	log.Info(" - Getting list of stops.")
	stops, err := feed.Stops()
	if err != nil {
		return errors.Wrap(err, "could not read stops", "mode", mode.Name)
	}
	log.Debugf("%s has %d stop(s).", mode.Name, len(stops))

	log.Info(" - Getting stopping patterns.")
	patterns, err := feed.RouteStopPatterns(routeNums)
	if err != nil {
		return errors.Wrap(err, "could not resolve stopping patterns", "mode", mode.Name)
	}
	for _, num := range routeNums {
		for _, dir := range patterns[num].Directions {
			log.Debugf("%s to %s: %s (%d stop(s))", num, dir.Name, strings.Join(dir.Stops, ","), len(dir.Stops))
		}
	}

	// stops appearing in some selected pattern, in first-seen order
	var included []string
	seen := map[string]bool{}
	for _, num := range routeNums {
		for _, dir := range patterns[num].Directions {
			for _, id := range dir.Stops {
				if !seen[id] {
					seen[id] = true
					included = append(included, id)
				}
			}
		}
	}
	log.Debugf("Stops filtered for inclusion: %s (%d stop(s))", strings.Join(included, ","), len(included))

	log.Info(" - Generating stops and stops.map file contents.")
	var stopsDat, stopsMap bytes.Buffer
	for _, id := range included {
		stop := stops[id]

		var offset [4]byte
		binary.LittleEndian.PutUint32(offset[:], uint32(stopsDat.Len()))
		stopsMap.Write(offset[:])

		var coord [4]byte
		binary.LittleEndian.PutUint32(coord[:], math.Float32bits(float32(stop.Lat*math.Pi/180.0)))
		stopsDat.Write(coord[:])
		binary.LittleEndian.PutUint32(coord[:], math.Float32bits(float32(stop.Lon*math.Pi/180.0)))
		stopsDat.Write(coord[:])

		name, err := cleanStopName(stop.Name)
		if err != nil {
			return errors.Wrap(err, "could not encode stop name", "stop", id)
		}
		stopsDat.WriteString(name)
		stopsDat.WriteByte(0)
	}
	log.Debugf("File sizes: stops: %d, stops.map: %d", stopsDat.Len(), stopsMap.Len())

	log.Info(" - Writing stops to disk.")
	if err := writeFile(filepath.Join(modePath, "stops"), stopsDat.Bytes()); err != nil {
		return err
	}
	log.Info(" - Writing stops.map to disk.")
	if err := writeFile(filepath.Join(modePath, "stops.map"), stopsMap.Bytes()); err != nil {
		return err
	}

	log.Info(" - Writing routes to disk.")
	var routesDat bytes.Buffer
	for _, num := range routeNums {
		routesDat.WriteString(num)
		routesDat.WriteByte('\n')
	}
	if err := writeFile(filepath.Join(modePath, "routes"), routesDat.Bytes()); err != nil {
		return err
	}

	log.Info(" - Creating stop index mapping.")
	index := make(map[string]uint16, len(included))
	for i, id := range included {
		index[id] = uint16(i)
	}

	for _, num := range routeNums {
		if err := g.generateRoute(modePath, num, routesInfo[num].LongName, patterns[num], index); err != nil {
			return err
		}
	}

	return nil
}

func (g *Generator) generateRoute(modePath, num, longName string, pattern gtfs.Pattern, index map[string]uint16) error {
	log.Infof(" - Generating data for the %s route.", num)

	routePath := filepath.Join(modePath, "route_data", num)
	if err := os.MkdirAll(routePath, 0o755); err != nil {
		return errors.Wrap(err, "could not create route directory", "path", routePath)
	}

	log.Info("    - Writing info file to disk.")
	info := longName + "\n" +
		fixDirectionName(pattern.Directions[0].Name) + "\n" +
		fixDirectionName(pattern.Directions[1].Name) + "\n"
	if err := writeFile(filepath.Join(routePath, "info"), []byte(info)); err != nil {
		return err
	}

	for i, dir := range pattern.Directions {
		fname := fmt.Sprintf("seq%d", i)
		log.Infof("    - Generating %s file contents.", fname)

		seq := make([]byte, 2*len(dir.Stops))
		for j, id := range dir.Stops {
			binary.LittleEndian.PutUint16(seq[2*j:], index[id])
		}
		log.Debugf("%s file size: %d bytes", fname, len(seq))

		log.Infof("    - Writing %s to disk.", fname)
		if err := writeFile(filepath.Join(routePath, fname), seq); err != nil {
			return err
		}
	}

	return nil
}

// cleanStopName strips the trailing suburb parenthetical and checks the
// name fits in ASCII, which is all the device's renderer understands.
func cleanStopName(name string) (string, error) {
	name = strings.TrimSpace(suburbSuffix.ReplaceAllString(name, ""))
	for _, r := range name {
		if r > 0x7F {
			return "", errors.Wrap(ErrStopName, "non-ASCII rune", "name", name)
		}
	}
	return name, nil
}

// fixDirectionName trims tram-style "X to Y" direction names down to "Y".
func fixDirectionName(name string) string {
	fields := strings.Fields(name)
	for i, f := range fields {
		if strings.EqualFold(f, "to") {
			return strings.Join(fields[i+1:], " ")
		}
	}
	return name
}

func writeFile(path string, contents []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create file", "path", path)
	}
	defer deferutil.CheckDefer(f.Close)

	if _, err := f.Write(contents); err != nil {
		return errors.Wrap(err, "could not write file", "path", path)
	}

	return nil
}
