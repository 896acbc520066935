package sdm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/esimov/sdm/landmark"
	"github.com/esimov/sdm/utils"
	"github.com/google/uuid"
	"golang.org/x/term"
)

// maxWorkers sets the maximum number of concurrently running workers.
const maxWorkers = 20

// LandmarkExt is the extension of the landmark files written next to the output images.
const LandmarkExt = ".pts"

// ListExt is the extension of image list files: one image path per line.
const ListExt = ".lst"

// Supported source image extensions.
var validExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

// Supported output image extensions. Batch outputs of other sources are written as png.
var outputExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Ops describes a fitting run over a single image, a pipe or a directory tree.
type Ops struct {
	Src, Dst, PipeName string
	// LandmarkDir receives the landmark files. When empty they are written
	// next to the output images.
	LandmarkDir string
	Workers     int
	// Status, when set, is called once per processed image.
	Status func(path string, err error)
}

// Stats summarises a run.
type Stats struct {
	Fitted  int
	Skipped int
	Failed  int
	Elapsed time.Duration
}

// result holds the outcome of fitting one image.
type result struct {
	path string
	err  error
}

// Execute fits the source image, every image below the source directory or
// every image named by a list file.
// Images without a face are skipped, other per image failures are counted;
// neither stops the run. The returned error is reserved for failures of the
// run itself: an unreadable source, an unusable destination, cancellation.
func (p *Processor) Execute(ctx context.Context, op *Ops) (Stats, error) {
	var (
		stats Stats
		fi    os.FileInfo
		err   error
		src   = op.Src
	)
	now := time.Now()
	// Records of one run share its id.
	log := Logger().With(slog.String("run", uuid.NewString()))
	log.InfoContext(ctx, "run started", slog.String("src", op.Src), slog.String("dst", op.Dst))

	// Check if source path is a local image or URL.
	if utils.IsValidUrl(src) {
		f, err := utils.DownloadImage(src)
		if f != nil {
			defer os.Remove(f.Name())
			defer f.Close()
		}
		if err != nil {
			return stats, fmt.Errorf("failed to load the source image: %w", err)
		}
		src = f.Name()
	}

	// Check if the source is a pipe name or a regular file.
	if src == op.PipeName {
		fi, err = os.Stdin.Stat()
	} else {
		fi, err = os.Stat(src)
	}
	if err != nil {
		return stats, fmt.Errorf("failed to load the source image: %w", err)
	}

	record := func(res result) {
		switch {
		case res.err == nil:
			stats.Fitted++
		case errors.Is(res.err, ErrNoFace):
			stats.Skipped++
			log.WarnContext(ctx, "image skipped", slog.String("image", res.path), slog.Any("reason", res.err))
		default:
			stats.Failed++
			log.ErrorContext(ctx, "image failed", slog.String("image", res.path), slog.Any("error", res.err))
		}
		if op.Status != nil {
			op.Status(res.path, res.err)
		}
	}

	switch mode := fi.Mode(); {
	case mode.IsDir(), mode.IsRegular() && strings.EqualFold(filepath.Ext(src), ListExt):
		if err := os.MkdirAll(op.Dst, 0755); err != nil {
			return stats, fmt.Errorf("unable to create the destination directory: %w", err)
		}
		feed, dstFor := walkFeed(src), op.mirror(src)
		if !mode.IsDir() {
			images, err := readList(src)
			if err != nil {
				return stats, fmt.Errorf("failed to read the image list: %w", err)
			}
			feed, dstFor = listFeed(images), op.flatten
		}
		if err := p.executeBatch(ctx, op, feed, dstFor, record); err != nil {
			stats.Elapsed = time.Since(now)
			return stats, err
		}

	case mode.IsRegular() || mode&os.ModeNamedPipe != 0: // check for regular files or pipe names
		ext := strings.ToLower(filepath.Ext(op.Dst))
		if !isValidExtension(ext, outputExtensions) && op.Dst != op.PipeName {
			return stats, fmt.Errorf("%v file type not supported", ext)
		}
		record(result{path: op.Src, err: op.process(ctx, p, src, op.Dst)})

	default:
		return stats, fmt.Errorf("%s is neither a file nor a directory", op.Src)
	}

	stats.Elapsed = time.Since(now)
	log.InfoContext(ctx, "run finished",
		slog.Int("fitted", stats.Fitted),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return stats, ctx.Err()
}

// feeder starts producing the source image paths. The error channel delivers
// a single value once the producer is done.
type feeder func(ctx context.Context) (<-chan string, <-chan error)

func walkFeed(root string) feeder {
	return func(ctx context.Context) (<-chan string, <-chan error) {
		return walkDir(ctx, root, validExtensions)
	}
}

func listFeed(images []string) feeder {
	return func(ctx context.Context) (<-chan string, <-chan error) {
		pathChan := make(chan string)
		errChan := make(chan error, 1)

		go func() {
			defer close(pathChan)
			for _, path := range images {
				select {
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				case pathChan <- path:
				}
			}
			errChan <- nil
		}()
		return pathChan, errChan
	}
}

// readList reads an image list file. Empty lines and lines starting with '#'
// are ignored, relative paths are resolved against the list's directory.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var images []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(filepath.Dir(path), line)
		}
		images = append(images, line)
	}
	return images, sc.Err()
}

// mirror places the outputs of a directory tree under the same relative paths.
func (op *Ops) mirror(root string) func(string) string {
	return func(src string) string {
		rel, err := filepath.Rel(root, src)
		if err != nil {
			rel = filepath.Base(src)
		}
		return outputPath(filepath.Join(op.Dst, rel))
	}
}

// flatten places the outputs of a list directly in the destination directory.
func (op *Ops) flatten(src string) string {
	return outputPath(filepath.Join(op.Dst, filepath.Base(src)))
}

// outputPath switches extensions the encoder cannot write to png.
func outputPath(dst string) string {
	ext := filepath.Ext(dst)
	if isValidExtension(strings.ToLower(ext), outputExtensions) {
		return dst
	}
	return strings.TrimSuffix(dst, ext) + ".png"
}

// executeBatch fits the fed images concurrently.
func (p *Processor) executeBatch(
	ctx context.Context,
	op *Ops,
	feed feeder,
	dstFor func(string) string,
	record func(result),
) error {
	var wg sync.WaitGroup

	// Limit the concurrently running workers to maxWorkers.
	workers := op.Workers
	if workers <= 0 || workers > maxWorkers {
		workers = utils.Min(runtime.NumCPU(), maxWorkers)
	}

	// Every worker owns its descriptor extractors.
	procs := make([]*Processor, workers)
	for i := range procs {
		wp, err := p.Clone()
		if err != nil {
			return err
		}
		procs[i] = wp
	}

	ch := make(chan result)

	// Stop the producer once the results are consumed, whatever the reason.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	paths, errc := feed(ctx)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(wp *Processor) {
			defer wg.Done()
			op.consumer(ctx, wp, ch, paths, dstFor)
		}(procs[i])
	}

	// Close the channel after the values are consumed.
	go func() {
		defer close(ch)
		wg.Wait()
	}()

	// Consume the channel values.
	for res := range ch {
		record(res)
	}

	if err := <-errc; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// consumer reads the path names from the paths channel and fits the image found there.
func (op *Ops) consumer(
	ctx context.Context,
	p *Processor,
	res chan<- result,
	paths <-chan string,
	dstFor func(string) string,
) {
	for src := range paths {
		if ctx.Err() != nil {
			return
		}
		dst := dstFor(src)
		err := os.MkdirAll(filepath.Dir(dst), 0755)
		if err == nil {
			err = op.process(ctx, p, src, dst)
		}

		select {
		case <-ctx.Done():
			return
		case res <- result{
			path: src,
			err:  err,
		}:
		}
	}
}

// process fits one image and writes the output image and its landmark file.
func (op *Ops) process(ctx context.Context, p *Processor, in, out string) error {
	src, dst, err := op.pathToFile(in, out)
	if err != nil {
		return err
	}

	defer func() {
		if img, ok := src.(*os.File); ok && img != os.Stdin {
			if err := img.Close(); err != nil {
				Logger().Warn("could not close the opened file", slog.Any("error", err))
			}
		}
	}()

	lms, err := p.Process(ctx, in, src, dst)
	if f, ok := dst.(*os.File); ok && f != os.Stdout {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			// remove the generated image file in case of an error
			os.Remove(f.Name())
		}
	}
	if err != nil {
		return err
	}

	if out == op.PipeName && op.LandmarkDir == "" {
		return nil
	}
	return landmark.WritePointsFile(landmark.FileFor(out, op.LandmarkDir, LandmarkExt), lms)
}

// pathToFile converts the source and destination paths to readable and writable files.
func (op *Ops) pathToFile(in, out string) (io.Reader, io.Writer, error) {
	var (
		src io.Reader
		dst io.Writer
		err error
	)
	// Check if the source is a pipe name or a regular file.
	if in == op.PipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, nil, errors.New("`-` should be used with a pipe for stdin")
		}
		src = os.Stdin
	} else {
		src, err = os.Open(in)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open the source file: %v", err)
		}
	}

	// Check if the destination is a pipe name or a regular file.
	if out == op.PipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, nil, errors.New("`-` should be used with a pipe for stdout")
		}
		dst = os.Stdout
	} else {
		dst, err = os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			if f, ok := src.(*os.File); ok && f != os.Stdin {
				f.Close()
			}
			return nil, nil, fmt.Errorf("unable to create the destination file: %v", err)
		}
	}
	return src, dst, nil
}

// walkDir starts a new goroutine to walk the specified directory tree
// in recursive manner and sends the path of each supported file to a new channel.
// It finishes when the context is cancelled.
func walkDir(
	ctx context.Context,
	src string,
	srcExts []string,
) (<-chan string, <-chan error) {
	pathChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		// Close the paths channel after Walk returns.
		defer close(pathChan)

		errChan <- filepath.Walk(src, func(path string, f os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !f.Mode().IsRegular() {
				return nil
			}
			if !isValidExtension(strings.ToLower(filepath.Ext(f.Name())), srcExts) {
				return nil
			}

			select {
			case <-ctx.Done():
				return errors.New("directory walk cancelled")
			case pathChan <- path:
			}
			return nil
		})
	}()
	return pathChan, errChan
}

// isValidExtension checks for the supported extensions.
func isValidExtension(ext string, extensions []string) bool {
	for _, ex := range extensions {
		if ex == ext {
			return true
		}
	}
	return false
}
