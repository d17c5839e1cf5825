package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"

	rig "github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/generichttp"
	"github.com/slscan/rig/generichttp/camera"
	"github.com/slscan/rig/generichttp/laser"
	"github.com/slscan/rig/imgrec"
	"github.com/slscan/rig/probe"
	"github.com/slscan/rig/server"
	"github.com/slscan/rig/server/middleware/locker"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func root() {
	str := `slscan drives a structured-light scanning rig: a Basler or FLIR camera,
a projector showing pattern stacks, and an optional probe laser.

Usage:
	slscan <command>

Commands:
	run        serve the rig over HTTP
	sequence   project the pattern stack once, capturing every pattern
	calibrate  project the checkerboard and take one calibration capture
	radiometric sweep the exposure, one calibration capture per exposure
	live       stream the camera to a window until a key is pressed
	status     write the camera's configuration for diagnostics
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `slscan is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Camera.Type is one of basler, flir, or sim.  The vendor SDKs and OpenCV are
opt-in at build time:

	go build -tags "pylon spinnaker gocv" ./cmd/slscan

Without the tags the basler and flir types fail to open and windows cannot be
shown; set Display.Headless for dry runs against the simulated camera.

Durations such as Display.Settle and the entries of Camera.Bracket may be written
as "2s", "500ms", "250us".  A bare number in the bracket is seconds.  An empty
bracket disables HDR capture unless Camera.AutoBracket is set, in which case
the scene is metered with auto exposure on startup and bracketed at 1/4 to 4x
the metered exposure.  POST /bracket/auto does the same while serving.

radiometric captures Radiometric.Exposures, or the default sweep from 30us to
60ms, into the Radiometric.Subfolder of the calibration directories.

Pattern.Source is a directory of PNGs, a single PNG or FITS cube, or one of the
generators "phase" (Steps, Period, Vertical) and "gradient".

The capture directories under Layout.Root are created on startup if they do not exist.
Press ctrl-C to stop a sequence; the window is closed and the devices released.`
	fmt.Println(str)
}

func pversion() {
	fmt.Printf("slscan version %v\n", Version)
}

func run(ctx context.Context, cfg config) error {
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	las, err := openLaser(cfg.Laser)
	if err != nil {
		return err
	}
	if las != nil {
		defer las.Close()
	}
	scr, err := newScreen(cfg.Display, opener(cfg.Display))
	if err != nil {
		return err
	}
	st, err := loadStack(cfg.Pattern, scr.Monitor().Width, scr.Monitor().Height)
	if err != nil {
		return err
	}
	scr.SetPattern(st)

	args := cfg.Recorder
	r := &imgrec.Recorder{Root: args.Root, Prefix: args.Prefix}
	lk := locker.New()
	seq := newSequencer(ctx, scr, cam, las, cfg.Laser.Power, lk)
	defer seq.Wait()
	mux := routes(cam, r, las, cfg.Laser.MaxPower, lk, seq)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	rootR := server.NewRouter()
	rootR.Mount(hndlrS, mux)
	log.Println("now listening for requests at ", cfg.Addr+hndlrS)
	return server.Serve(ctx, cfg.Addr, rootR)
}

// routes binds the camera, recorder, lock, sequence, and laser routes.  Every
// route but the lock and sequence ones replies 423 while a sequence runs.
func routes(cam rig.Adapter, rec *imgrec.Recorder, las *probe.Laser, maxPower float64, lk *locker.Locker, seq *sequencer) chi.Router {
	w := camera.NewHTTPCamera(cam, rec)
	locker.Inject(w, lk)
	seq.Inject(w)
	mux := chi.NewRouter()
	mux.Use(lk.Check)
	w.RT().Bind(mux)
	if las != nil {
		mux.Route("/laser", func(r chi.Router) {
			laser.NewHTTPLaser(las, maxPower).RT().Bind(r)
		})
	}
	return mux
}

func sequence(ctx context.Context, cfg config) error {
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	las, err := openLaser(cfg.Laser)
	if err != nil {
		return err
	}
	if las != nil {
		defer las.Close()
	}
	scr, err := newScreen(cfg.Display, opener(cfg.Display))
	if err != nil {
		return err
	}
	st, err := loadStack(cfg.Pattern, scr.Monitor().Width, scr.Monitor().Height)
	if err != nil {
		return err
	}
	scr.SetPattern(st)
	spin, err := newSpinner(fmt.Sprintf("%d patterns", st.Depth()))
	if err != nil {
		log.Println("no progress display:", err)
		spin = nil
	}
	return runSequence(ctx, scr, cam, las, cfg.Laser.Power, spin)
}

func calibrate(ctx context.Context, cfg config) error {
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	// a headless checkerboard is dismissed right after the capture
	scr, err := newScreen(cfg.Display, opener(cfg.Display, ' '))
	if err != nil {
		return err
	}
	log.Println("press any key in the checkerboard window when done")
	return scr.ShowCalibrationPattern(ctx, cam, cfg.Calibration.Pattern, cfg.Calibration.Name)
}

func radiometric(ctx context.Context, cfg config) error {
	exps, err := parseExposures(cfg.Radiometric.Exposures)
	if err != nil {
		return err
	}
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	if len(exps) == 0 {
		exps = rig.DefaultSweep
	}
	log.Printf("sweeping %d exposures from %v to %v\n", len(exps), exps[0], exps[len(exps)-1])
	return rig.ExposureSweep(ctx, cam, exps, cfg.Radiometric.Subfolder)
}

func live(ctx context.Context, cfg config) error {
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	m, err := display.Select(cfg.Display.Monitors, 0)
	if err != nil {
		return err
	}
	surf, err := opener(cfg.Display)("Live", m, false)
	if err != nil {
		return err
	}
	log.Println("press any key in the live window to stop")
	return cam.LiveView(ctx, surf)
}

func status(ctx context.Context, cfg config) error {
	cam, done, err := openCamera(cfg.Camera, cfg.Layout)
	if err != nil {
		return err
	}
	defer done()
	err = cam.Status()
	if errors.Is(err, rig.ErrUnsupported) {
		log.Printf("%s cameras do not export their status\n", cfg.Camera.Type)
		return nil
	}
	return err
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	var verb func(context.Context, config) error
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "run":
		verb = run
	case "sequence":
		verb = sequence
	case "calibrate":
		verb = calibrate
	case "radiometric":
		verb = radiometric
	case "live":
		verb = live
	case "status":
		verb = status
	default:
		log.Fatal("unknown command")
	}
	cfg := loadconfig()
	if err := mkdirs(cfg.Layout, cfg.Radiometric.Subfolder); err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := verb(ctx, cfg)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
