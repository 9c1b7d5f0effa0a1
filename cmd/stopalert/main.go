package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/itsmevjnk/StopAlert-companion/pkg/config"
)

func run() error {
	app := NewApp()
	defaults := config.Default()

	pflag.BoolVarP(&app.editAction, "edit-action", "e", false, "edit action before execution")
	pflag.BoolVarP(&app.verbose, "verbose", "v", false, "print more information during execution")
	pflag.StringVarP(&app.confPath, "config", "c", "", "path to profile file")

	pflag.BoolVar(&app.listDevices, "list-devices", false, "list all serial devices detected by the system")
	pflag.BoolVar(&app.generateOnly, "generate-only", false, "generate file system only")
	pflag.BoolVar(&app.uploadOnly, "upload-only", false, "upload existing file system only")
	pflag.BoolVar(&app.listFiles, "list-files", false, "list files on SPIFFS file system instead of uploading")
	pflag.BoolVar(&app.dumpFiles, "dump-files", false, "dump current file system on device to the SPIFFS file system path instead of uploading")
	pflag.BoolVar(&app.listModes, "list-modes", false, "list available public transport modes")
	pflag.StringVar(&app.listRoutes, "list-routes", "", "list available routes for the specified public transport mode")

	pflag.StringVarP(&app.device, "device", "d", defaults.Device.Port, "device serial port")
	pflag.IntVarP(&app.baud, "baud", "b", defaults.Device.Baud, "device serial communication baud rate")
	pflag.IntVar(&app.timeout, "timeout", defaults.Device.Timeout, "device serial communication timeout duration in seconds")
	pflag.IntVar(&app.formatReqTimeout, "format-req-timeout", defaults.Device.FormatReqTimeout, "reformat request timeout duration in seconds")
	pflag.IntVar(&app.formatTimeout, "format-timeout", defaults.Device.FormatTimeout, "reformat timeout duration in seconds")

	pflag.StringVar(&app.fsRoot, "filesystem", defaults.Filesystem.Root, "path to SPIFFS file system")
	pflag.BoolVar(&app.noFormat, "no-format", false, "delete all files on device instead of clean reformatting")

	pflag.StringVarP(&app.datasetURL, "dataset-url", "u", defaults.Dataset.URL, "PTV timetable/geolocation GTFS dataset URL")
	pflag.StringArrayVarP(&app.routeSpecs, "routes", "r", nil, "select routes for inclusion in device file system (e.g. -r MetroBus:767,903,201) - use argument separately for each mode")

	pflag.Parse()

	return app.Run(pflag.CommandLine)
}

func main() {
	if err := run(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
