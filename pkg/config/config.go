// Package config layers the companion tool's settings: built-in defaults,
// an optional YAML profile file, then STOPALERT_* environment overrides.
package config

import (
	"os"
	"runtime"

	"github.com/gsmcwhirter/go-util/v7/deferutil"
	"github.com/gsmcwhirter/go-util/v7/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/itsmevjnk/StopAlert-companion/pkg/ptv"
)

const envPrefix = "STOPALERT"

// Device holds the serial connection settings. All timeouts are in
// seconds.
type Device struct {
	Port             string `yaml:"port"`
	Baud             int    `yaml:"baud"`
	Timeout          int    `yaml:"timeout"`
	FormatReqTimeout int    `yaml:"format_req_timeout"`
	FormatTimeout    int    `yaml:"format_timeout"`
}

type Filesystem struct {
	Root     string `yaml:"root"`
	NoFormat bool   `yaml:"no_format"` // delete all files instead of reformatting
}

type Dataset struct {
	URL    string              `yaml:"url"`
	Routes map[string][]string `yaml:"routes" ignored:"true"`
}

// Config holds every tunable of the companion tool.
type Config struct {
	Device     Device     `yaml:"device"`
	Filesystem Filesystem `yaml:"filesystem"`
	Dataset    Dataset    `yaml:"dataset"`
	Verbose    bool       `yaml:"verbose"`
}

func defaultPort() string {
	if runtime.GOOS == "windows" {
		return "COM1"
	}
	return "/dev/ttyUSB0"
}

func Default() Config {
	return Config{
		Device: Device{
			Port:             defaultPort(),
			Baud:             115200,
			Timeout:          10,
			FormatReqTimeout: 30,
			FormatTimeout:    60,
		},
		Filesystem: Filesystem{
			Root: "fs",
		},
		Dataset: Dataset{
			URL: ptv.DefaultDatasetURL,
		},
	}
}

// Load builds the effective configuration. path may be empty to skip the
// profile file.
func Load(path string) (Config, error) {
	conf := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return conf, errors.Wrap(err, "could not open profile", "path", path)
		}
		defer deferutil.CheckDefer(f.Close)

		if err := yaml.NewDecoder(f).Decode(&conf); err != nil {
			return conf, errors.Wrap(err, "could not decode profile", "path", path)
		}
	}

	if err := envconfig.Process(envPrefix, &conf); err != nil {
		return conf, errors.Wrap(err, "could not process environment overrides")
	}

	return conf, nil
}

// InContainer reports whether the tool is running inside its container
// image, which sets ENV_DOCKER.
func InContainer() bool {
	return os.Getenv("ENV_DOCKER") != ""
}
