package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/esimov/sdm"
	"github.com/esimov/sdm/landmark"
	"github.com/esimov/sdm/utils"
	"golang.org/x/term"
)

const HelpBanner = `
┌─┐┌┬┐┌┬┐
└─┐ │││││
└─┘─┴┘┴ ┴

Supervised descent facial landmark fitting.
    Version: %s

`

// pipeName is the file name that indicates stdin/stdout is being used.
const pipeName = "-"

// Initialisation sources.
const (
	initDetector  = "detector"
	initRect      = "rect"
	initLandmarks = "landmarks"
	initMuct      = "muct"
)

// Version indicates the current build version.
var Version string

var (
	// Flags
	source      = flag.String("in", pipeName, "Source image, directory or .lst image list")
	destination = flag.String("out", pipeName, "Destination image or directory")
	modelPath   = flag.String("model", "", "Landmark model file")
	cascade     = flag.String("cf", "", "Face detector cascade file")
	initMode    = flag.String("init", initDetector, "Initialisation: detector, rect, landmarks or muct")
	initPath    = flag.String("lm", "", "Directory of the rect/landmark files, or the MUCT csv file")
	initExt     = flag.String("ext", "", "Extension of the rect/landmark files (default .rect/.pts)")
	lmDir       = flag.String("lmout", "", "Directory of the fitted landmark files (default next to the output)")
	faceAngle   = flag.Float64("angle", 0.0, "Plane rotated faces angle")
	minScore    = flag.Float64("minscore", 5.0, "Minimum detection score of a face")
	adaptive    = flag.Bool("adaptive", true, "Scale the descriptor windows and updates with the face size")
	draw        = flag.Bool("draw", true, "Draw the fitted landmarks over the output image")
	workers     = flag.Int("conc", runtime.NumCPU(), "Number of files to process concurrently")
	verbosity   = flag.String("v", "warn", "Log level: panic, error, warn, info, debug or trace")
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, HelpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Environment variables override the flags.
	utils.ReadEnvString("SDM_MODEL", modelPath)
	utils.ReadEnvString("SDM_CASCADE", cascade)
	utils.ReadEnvFloat("SDM_MIN_SCORE", minScore)
	utils.ReadEnvInt("SDM_WORKERS", workers)
	utils.ReadEnvBool("SDM_ADAPTIVE", adaptive)
	utils.ReadEnvString("SDM_VERBOSE", verbosity)

	level, err := parseLevel(*verbosity)
	if err != nil {
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}
	sdm.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *modelPath == "" {
		log.Fatal(utils.DecorateText("Please provide a landmark model with the -model flag!", utils.ErrorMessage))
	}
	if *source == pipeName && term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatal(utils.DecorateText("`-` should be used with a pipe for stdin", utils.ErrorMessage))
	}
	if *destination == pipeName && term.IsTerminal(int(os.Stdout.Fd())) {
		log.Fatal(utils.DecorateText("`-` should be used with a pipe for stdout", utils.ErrorMessage))
	}

	model, err := sdm.Load(*modelPath)
	if err != nil {
		log.Fatalf(
			utils.DecorateText("Failed to load the landmark model: %v", utils.ErrorMessage),
			utils.DecorateText(err.Error(), utils.DefaultMessage),
		)
	}

	initSrc, err := initializer()
	if err != nil {
		log.Fatalf(
			utils.DecorateText("Failed to set up the initialisation: %v", utils.ErrorMessage),
			utils.DecorateText(err.Error(), utils.DefaultMessage),
		)
	}

	proc := sdm.NewProcessor(model, initSrc)
	proc.Fitter.Optimizer.Adaptive = *adaptive
	if *draw {
		overlay := sdm.DefaultOverlay
		proc.Overlay = &overlay
	}

	spinnerText := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ SDM", utils.StatusMessage),
		utils.DecorateText("is fitting the landmarks...", utils.DefaultMessage))
	spinner := utils.NewSpinner(spinnerText, time.Millisecond*200, true)

	// Capture CTRL-C signal and restores back the cursor visibility.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var processed int
	op := &sdm.Ops{
		Src:         *source,
		Dst:         *destination,
		PipeName:    pipeName,
		LandmarkDir: *lmDir,
		Workers:     *workers,
		Status: func(path string, err error) {
			processed++
			spinner.SetMessage(fmt.Sprintf("%s %s",
				spinnerText, utils.DecorateText(fmt.Sprintf("(%d)", processed), utils.DefaultMessage)))
			printStatus(path, err)
		},
	}

	spinner.Start()
	stats, err := proc.Execute(ctx, op)
	spinner.StopMsg = fmt.Sprintf("%s %s\n",
		utils.DecorateText("⚡ SDM", utils.StatusMessage),
		utils.DecorateText(fmt.Sprintf("fitted %d, skipped %d, failed %d", stats.Fitted, stats.Skipped, stats.Failed), utils.SuccessMessage),
	)
	spinner.Stop()

	if err != nil {
		log.Fatalf(
			utils.DecorateText("\nError fitting the landmarks: %s", utils.ErrorMessage),
			utils.DecorateText(fmt.Sprintf("\n\tReason: %v\n", err.Error()), utils.DefaultMessage),
		)
	}
	fmt.Fprintf(os.Stderr, "\nExecution time: %s (%s)\n",
		utils.DecorateText(utils.FormatTime(stats.Elapsed), utils.SuccessMessage),
		utils.FormatRate(stats.Fitted, "faces", stats.Elapsed),
	)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

// initializer builds the initialisation source selected by the -init flag.
func initializer() (sdm.Initializer, error) {
	switch *initMode {
	case initDetector:
		if *cascade == "" {
			return nil, errors.New("the detector initialisation needs a cascade file (-cf)")
		}
		finder, err := sdm.LoadFaceFinder(*cascade)
		if err != nil {
			return nil, err
		}
		finder.Angle = *faceAngle
		finder.MinScore = float32(*minScore)
		return sdm.DetectorInit{Finder: finder}, nil
	case initRect:
		return sdm.BoxFileInit{Dir: *initPath, Ext: extOr(".rect")}, nil
	case initLandmarks:
		return sdm.LandmarkFileInit{Dir: *initPath, Ext: extOr(sdm.LandmarkExt)}, nil
	case initMuct:
		if *initPath == "" {
			return nil, errors.New("the muct initialisation needs the csv file (-lm)")
		}
		lms, err := landmark.ReadMuctFile(*initPath)
		if err != nil {
			return nil, err
		}
		return sdm.CollectionInit(lms), nil
	default:
		return nil, fmt.Errorf("unknown initialisation %q", *initMode)
	}
}

func extOr(def string) string {
	if *initExt != "" {
		return *initExt
	}
	return def
}

// parseLevel maps the verbosity names onto slog levels.
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "panic":
		return slog.LevelError + 4, nil
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return sdm.LevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// printStatus displays the outcome of fitting one image.
func printStatus(path string, err error) {
	switch {
	case err == nil:
		if path != pipeName {
			fmt.Fprintf(os.Stderr, "\nThe landmarks of %s have been saved %s\n",
				utils.DecorateText(filepath.Base(path), utils.SuccessMessage),
				utils.DefaultColor,
			)
		}
	case errors.Is(err, sdm.ErrNoFace):
		fmt.Fprintf(os.Stderr, "\n%s %s\n",
			utils.DecorateText("Skipped:", utils.WarningMessage),
			utils.DecorateText(err.Error(), utils.DefaultMessage),
		)
	default:
		fmt.Fprintf(os.Stderr, "\n%s %s\n\tReason: %v\n",
			utils.DecorateText("Error fitting the landmarks of", utils.ErrorMessage),
			filepath.Base(path), err,
		)
	}
}
