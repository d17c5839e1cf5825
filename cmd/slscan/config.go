package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	rig "github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/probe"
	"github.com/slscan/rig/projection"
	"github.com/slscan/rig/util"
)

var (
	// ConfigFileName is what it sounds like
	ConfigFileName = "slscan.yml"
	k              = koanf.New(".")
)

type cameraConf struct {
	// Type is one of basler, flir, sim
	Type string `yaml:"Type"`

	// Index selects the FLIR camera in the Spinnaker camera list
	Index int `yaml:"Index"`

	// Monochrome and Bits16 select the pixel format
	Monochrome bool `yaml:"Monochrome"`
	Bits16     bool `yaml:"Bits16"`

	// Exposure, if nonzero, is set after the camera is opened
	Exposure time.Duration `yaml:"Exposure"`

	// Bracket is the HDR exposure bracket, e.g. ["1ms", "4ms", "16ms"].
	// Empty disables HDR.
	Bracket []string `yaml:"Bracket"`

	// AutoBracket meters the scene when the camera opens and brackets
	// around the metered exposure.  It is ignored if Bracket is set.
	AutoBracket bool `yaml:"AutoBracket"`

	// SimWidth and SimHeight are the sensor size of the simulated camera
	SimWidth  int `yaml:"SimWidth"`
	SimHeight int `yaml:"SimHeight"`
}

type displayConf struct {
	Monitors []display.Monitor `yaml:"Monitors"`

	// Index selects the projector in Monitors
	Index int `yaml:"Index"`

	// Headless draws nowhere, for dry runs against the simulated camera
	Headless bool `yaml:"Headless"`

	Settle  time.Duration `yaml:"Settle"`
	KeyWait time.Duration `yaml:"KeyWait"`
}

type patternConf struct {
	// Source is a directory of PNGs, a PNG or FITS file, or one of the
	// generators "phase" and "gradient"
	Source string `yaml:"Source"`

	// Steps, Period and Vertical parameterize the phase generator
	Steps    int     `yaml:"Steps"`
	Period   float64 `yaml:"Period"`
	Vertical bool    `yaml:"Vertical"`
}

type laserConf struct {
	Enabled bool   `yaml:"Enabled"`
	Addr    string `yaml:"Addr"`
	Baud    int    `yaml:"Baud"`

	// Power is the setpoint in mW applied when a sequence starts
	Power float64 `yaml:"Power"`

	// MaxPower is the ceiling in mW on setpoints requested over HTTP.
	// Zero disables the check.
	MaxPower float64 `yaml:"MaxPower"`
}

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type radiometricConf struct {
	// Exposures are swept in order, e.g. ["30us", "60us"].  Empty uses the
	// 20 exposure default sweep from 30us to 60ms.
	Exposures []string `yaml:"Exposures"`

	// Subfolder is under the calibration directories
	Subfolder string `yaml:"Subfolder"`
}

type calibrationConf struct {
	// Pattern is the checkerboard image
	Pattern string `yaml:"Pattern"`

	// Name is the capture name, relative to the calibration directories
	Name string `yaml:"Name"`
}

type config struct {
	Addr        string          `yaml:"Addr"`
	Root        string          `yaml:"Root"`
	Layout      rig.Layout      `yaml:"Layout"`
	Camera      cameraConf      `yaml:"Camera"`
	Display     displayConf     `yaml:"Display"`
	Pattern     patternConf     `yaml:"Pattern"`
	Laser       laserConf       `yaml:"Laser"`
	Recorder    recorder        `yaml:"Recorder"`
	Calibration calibrationConf `yaml:"Calibration"`
	Radiometric radiometricConf `yaml:"Radiometric"`
}

func defaults() config {
	return config{
		Addr:   ":8000",
		Root:   "/",
		Layout: rig.DefaultLayout(),
		Camera: cameraConf{
			Type:       "sim",
			Monochrome: true,
			SimWidth:   640,
			SimHeight:  480,
		},
		Display: displayConf{
			Monitors: []display.Monitor{
				{Name: "main", Width: 1920, Height: 1080},
				{Name: "projector", X: 1920, Width: 1920, Height: 1080},
			},
			Index:   1,
			Settle:  projection.DefaultSettle,
			KeyWait: projection.DefaultKeyWait,
		},
		Pattern: patternConf{
			Source: "phase",
			Steps:  4,
			Period: 32,
		},
		Laser: laserConf{
			Addr: "/dev/ttyUSB0",
			Baud: probe.DefaultBaud,
		},
		Recorder: recorder{Prefix: "slscan"},
		Calibration: calibrationConf{
			Pattern: projection.DefaultCalibrationPattern,
			Name:    projection.DefaultCalibrationName,
		},
		Radiometric: radiometricConf{Subfolder: rig.RadiometricSubfolder},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() config {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func parseExposures(strs []string) (rig.Bracket, error) {
	var b rig.Bracket
	for _, s := range strs {
		d, err := util.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("exposure %q: %w", s, err)
		}
		b = append(b, d)
	}
	return b, nil
}

// bracket parses the configured exposure bracket
func (c cameraConf) bracket() (rig.Bracket, error) {
	return parseExposures(c.Bracket)
}

// mkdirs creates the capture tree, which Layout itself never does, with the
// given calibration subfolders
func mkdirs(l rig.Layout, subfolders ...string) error {
	dirs := []string{l.CapturedImages, l.CapturedRaw, l.CalibrationImages, l.CalibrationRaw}
	for _, sub := range subfolders {
		if sub != "" {
			dirs = append(dirs, filepath.Join(l.CalibrationImages, sub), filepath.Join(l.CalibrationRaw, sub))
		}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0777); err != nil {
			return err
		}
	}
	return nil
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}
