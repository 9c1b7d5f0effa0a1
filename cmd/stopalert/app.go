package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	logger "github.com/itsmevjnk/StopAlert-companion/log"
	"github.com/itsmevjnk/StopAlert-companion/pkg/config"
	"github.com/itsmevjnk/StopAlert-companion/pkg/device"
	"github.com/itsmevjnk/StopAlert-companion/pkg/gtfs"
	"github.com/itsmevjnk/StopAlert-companion/pkg/ptv"
	"github.com/itsmevjnk/StopAlert-companion/pkg/spiffs"
)

type App struct {
	editAction bool
	verbose    bool
	confPath   string

	listDevices  bool
	generateOnly bool
	uploadOnly   bool
	listFiles    bool
	dumpFiles    bool
	listModes    bool
	listRoutes   string

	device           string
	baud             int
	timeout          int
	formatReqTimeout int
	formatTimeout    int

	fsRoot     string
	noFormat   bool
	datasetURL string
	routeSpecs []string

	conf config.Config

	// derived actions
	actGenerate bool
	actUpload   bool
	actListFS   bool
	actDumpFS   bool
}

func NewApp() *App {
	return &App{}
}

func (a *App) Run(flags *pflag.FlagSet) error {
	if err := a.checkExclusive(); err != nil {
		return err
	}

	if err := a.loadConfig(flags); err != nil {
		return err
	}

	if a.conf.Verbose {
		logger.Get().SetLevel(logrus.DebugLevel)
	}

	switch {
	case a.listDevices:
		return a.printDevices()
	case a.listModes:
		a.printModes()
		return nil
	case a.listRoutes != "":
		return a.printRoutes(a.listRoutes)
	}

	a.deriveActions()

	if a.editAction {
		proceed, err := a.editInteractive()
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
		if a.conf.Verbose {
			logger.Get().SetLevel(logrus.DebugLevel)
		}
	}

	if a.actGenerate {
		if err := a.generate(); err != nil {
			return err
		}
	}

	if a.connectsToDevice() {
		if err := a.deviceSession(); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) checkExclusive() error {
	count := 0
	for _, set := range []bool{
		a.listDevices, a.generateOnly, a.uploadOnly,
		a.listFiles, a.dumpFiles, a.listModes, a.listRoutes != "",
	} {
		if set {
			count++
		}
	}
	if count > 1 {
		return errors.New("only one action may be selected")
	}
	return nil
}

// loadConfig layers the profile file and environment under any flags the
// user set explicitly.
func (a *App) loadConfig(flags *pflag.FlagSet) error {
	conf, err := config.Load(a.confPath)
	if err != nil {
		return errors.Wrap(err, "could not load configuration")
	}

	if flags.Changed("device") {
		conf.Device.Port = a.device
	}
	if flags.Changed("baud") {
		conf.Device.Baud = a.baud
	}
	if flags.Changed("timeout") {
		conf.Device.Timeout = a.timeout
	}
	if flags.Changed("format-req-timeout") {
		conf.Device.FormatReqTimeout = a.formatReqTimeout
	}
	if flags.Changed("format-timeout") {
		conf.Device.FormatTimeout = a.formatTimeout
	}
	if flags.Changed("filesystem") {
		conf.Filesystem.Root = a.fsRoot
	}
	if flags.Changed("no-format") {
		conf.Filesystem.NoFormat = a.noFormat
	}
	if flags.Changed("dataset-url") {
		conf.Dataset.URL = a.datasetURL
	}
	if a.verbose {
		conf.Verbose = true
	}

	if len(a.routeSpecs) > 0 {
		routes, err := parseRouteSpecs(a.routeSpecs)
		if err != nil {
			return err
		}
		conf.Dataset.Routes = routes
	}

	a.conf = conf
	return nil
}

// parseRouteSpecs turns repeated "Mode:r1,r2" specifiers into a per-mode
// route list.
func parseRouteSpecs(specs []string) (map[string][]string, error) {
	routes := map[string][]string{}
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 2 {
			return nil, errors.Errorf("malformed route specifier %s", spec)
		}
		if _, ok := ptv.ModeByName(parts[0]); !ok {
			return nil, errors.Errorf("public transport mode %s does not exist", parts[0])
		}
		nums := strings.Split(parts[1], ",")
		if len(nums) > 0 {
			routes[parts[0]] = nums
		}
	}
	return routes, nil
}

func (a *App) deriveActions() {
	a.actListFS = a.listFiles
	a.actDumpFS = a.dumpFiles
	retrieveListing := a.actListFS || a.actDumpFS

	if !a.generateOnly && !a.uploadOnly && !retrieveListing {
		// default action
		a.actGenerate = true
		a.actUpload = true
	} else {
		a.actGenerate = a.generateOnly
		a.actUpload = a.uploadOnly
	}
}

func (a *App) connectsToDevice() bool {
	return a.actUpload || a.actListFS || a.actDumpFS
}

func (a *App) printDevices() error {
	ports, err := device.ListPorts()
	if err != nil {
		return errors.Wrap(err, "could not list serial devices")
	}

	fmt.Println("Available serial ports:")
	for _, port := range ports {
		fmt.Printf(" - %s: %s\n", port.Name, port.Description)
	}
	return nil
}

func (a *App) printModes() {
	fmt.Println("Available public transport modes: " + strings.Join(ptv.ModeNames(), ", ") + ".")
	fmt.Println("NOTE: Only MetroTram and MetroBus are tested with the device!")
}

func (a *App) printRoutes(modeName string) error {
	mode, ok := ptv.ModeByName(modeName)
	if !ok {
		return errors.Errorf("invalid public transport mode %s", modeName)
	}

	feed, err := a.openFeed(modeName)
	if err != nil {
		return err
	}

	routes, err := feed.Routes()
	if err != nil {
		return errors.Wrap(err, "could not read routes")
	}

	nums := make([]string, 0, len(routes))
	for num := range routes {
		nums = append(nums, num)
	}
	sort.Strings(nums)

	fmt.Printf("The %s network consists of %d route(s):\n", mode.Display, len(routes))
	for _, num := range nums {
		if a.conf.Verbose {
			fmt.Printf(" - %s: %s (route IDs: %s)\n", num, routes[num].LongName, strings.Join(routes[num].IDs, ", "))
		} else {
			fmt.Printf(" - %s: %s\n", num, routes[num].LongName)
		}
	}
	return nil
}

func datasetExists(modeName string) bool {
	info, err := os.Stat(modeName)
	return err == nil && info.IsDir()
}

// openFeed opens a mode's dataset directory, downloading it first if it
// is not present yet.
func (a *App) openFeed(modeName string) (*gtfs.Feed, error) {
	if !datasetExists(modeName) {
		dl := ptv.NewDownloader(a.conf.Dataset.URL)
		if err := dl.DownloadDatasets(context.Background(), []string{modeName}, "."); err != nil {
			return nil, errors.Wrap(err, "could not download dataset")
		}
	}
	return gtfs.Open(modeName), nil
}

func (a *App) generate() error {
	if len(a.conf.Dataset.Routes) == 0 {
		return errors.New("no routes specified to generate dataset for")
	}

	if err := spiffs.PrepareRoot(a.conf.Filesystem.Root); err != nil {
		return errors.Wrap(err, "could not prepare file system root")
	}

	modes := make([]string, 0, len(a.conf.Dataset.Routes))
	for _, mode := range ptv.Modes {
		if _, ok := a.conf.Dataset.Routes[mode.Name]; ok {
			modes = append(modes, mode.Name)
		}
	}
	if len(modes) != len(a.conf.Dataset.Routes) {
		for name := range a.conf.Dataset.Routes {
			if _, ok := ptv.ModeByName(name); !ok {
				return errors.Errorf("public transport mode %s does not exist", name)
			}
		}
	}

	dl := ptv.NewDownloader(a.conf.Dataset.URL)
	if err := dl.DownloadDatasets(context.Background(), modes, "."); err != nil {
		return errors.Wrap(err, "could not download datasets")
	}

	gen := &spiffs.Generator{
		Root:       a.conf.Filesystem.Root,
		DatasetDir: ".",
		Now:        time.Now(),
	}
	return errors.Wrap(gen.Generate(a.conf.Dataset.Routes), "could not generate file system")
}

func (a *App) deviceSession() error {
	timeout := time.Duration(a.conf.Device.Timeout) * time.Second

	client, err := device.Open(a.conf.Device.Port, a.conf.Device.Baud, timeout)
	if err != nil {
		return errors.Wrap(err, "could not connect to device")
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			fmt.Printf("WARNING: could not close device: %v\n", cerr)
		}
	}()

	if err := client.Ping(); err != nil {
		return errors.Wrap(err, "could not verify connection")
	}

	version, err := client.Version()
	if err != nil {
		return errors.Wrap(err, "could not read firmware info")
	}
	fmt.Printf("Device firmware information string: %s\n", version)

	if a.actListFS || a.actDumpFS {
		if a.conf.Verbose {
			total, used, err := client.Info()
			if err != nil {
				return errors.Wrap(err, "could not read file system information")
			}
			fmt.Printf("Device file system stats: total %d bytes (%d bytes used)\n", total, used)
		}

		listing, err := client.List()
		if err != nil {
			return errors.Wrap(err, "could not retrieve file system listing")
		}

		if a.actListFS {
			printListing(listing)
		}

		if a.actDumpFS {
			if err := spiffs.PrepareRoot(a.conf.Filesystem.Root); err != nil {
				return errors.Wrap(err, "could not prepare file system root")
			}
			if err := client.Dump(a.conf.Filesystem.Root, listing); err != nil {
				return errors.Wrap(err, "could not dump file system")
			}
		}
	}

	if a.actUpload {
		if a.conf.Filesystem.NoFormat {
			if err := client.DeleteAll(); err != nil {
				return errors.Wrap(err, "device was not cleared successfully")
			}
		} else {
			if err := client.Reformat(
				time.Duration(a.conf.Device.FormatReqTimeout)*time.Second,
				time.Duration(a.conf.Device.FormatTimeout)*time.Second,
			); err != nil {
				return errors.Wrap(err, "device was not reformatted successfully")
			}
		}

		if err := client.Upload(a.conf.Filesystem.Root); err != nil {
			return errors.Wrap(err, "could not upload file system")
		}
	}

	return nil
}

func printListing(listing []device.Entry) {
	fmt.Printf("File system listing (%d file(s)):\n", len(listing))

	pathLen, sizeLen := 4, 4
	for _, entry := range listing {
		if l := len(entry.Path) + 1; l > pathLen {
			pathLen = l
		}
		if l := len(fmt.Sprintf("%d", entry.Size)) + 1; l > sizeLen {
			sizeLen = l
		}
	}

	fmt.Printf("%-*s|%-*s\n", pathLen, "Path", sizeLen, "Size")
	fmt.Println(strings.Repeat("=", pathLen+sizeLen+1))
	for _, entry := range listing {
		fmt.Printf("%-*s|%-*d\n", pathLen, entry.Path, sizeLen, entry.Size)
	}
}
