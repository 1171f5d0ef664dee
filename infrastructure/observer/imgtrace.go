package observer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// ImgTraceName is the registered name of the ImgTrace observer.
const ImgTraceName = "img-trace"

const partialSuffix = ".partial"

var (
	actionableColor = color.RGBA{R: 255, G: 165, A: 255}
	targetColor     = color.RGBA{R: 255, A: 255}
)

// ImgTrace writes one image per widget interaction: the screenshot of the
// state the action was chosen in, with actionable widgets and the target
// outlined. Images are numbered by interaction; resets, back presses and
// the terminate step are not traced.
type ImgTrace struct {
	dir  string
	step atomic.Int64
	log  *logging.Scoped
}

// NewImgTrace creates the observer writing into dir.
func NewImgTrace(dir string) (*ImgTrace, error) {
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- report directory
		return nil, fmt.Errorf("create image trace dir: %w", err)
	}
	return &ImgTrace{dir: dir, log: logging.For("imgtrace")}, nil
}

// Name implements Observer.
func (t *ImgTrace) Name() string { return ImgTraceName }

// OnNewRecord waits for the previous state's screenshot and writes the
// annotated copy. Output is written to a ".partial" file first and only
// renamed once complete.
func (t *ImgTrace) OnNewRecord(ctx context.Context, ec *exploration.Context, record exploration.TraceRecord) error {
	target := record.Action.Target
	if target == nil {
		return nil
	}
	step := t.step.Add(1) - 1

	prev := ec.StateBefore(record.Index)
	if prev.ScreenshotPath == "" {
		return nil
	}

	if err := waitForFile(ctx, prev.ScreenshotPath); err != nil {
		return err
	}

	img, err := readPNG(prev.ScreenshotPath)
	if err != nil {
		return err
	}

	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)

	for _, w := range prev.ActionableWidgets() {
		outline(canvas, w.Bounds, 3, actionableColor)
	}
	outline(canvas, target.Bounds, 6, targetColor)

	name := filepath.Join(t.dir, fmt.Sprintf("%d-%s-%s.png", step, record.Action.ID, record.Action.Kind))
	partial := name + partialSuffix
	if err := writePNG(partial, canvas); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(partial, name); err != nil {
		return fmt.Errorf("finalize image trace: %w", err)
	}
	t.log.Debug().
		Add(logging.Step(int(step))).
		Add(logging.Str("file", name)).
		Msg("image trace written")
	return nil
}

// Dump implements Observer. Images are written as records arrive.
func (t *ImgTrace) Dump(context.Context, *exploration.Context) error {
	return nil
}

// waitForFile blocks until path exists or ctx is done.
func waitForFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve screenshot path: %w", err)
	}
	if exists(abs) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create screenshot watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- screenshot directory
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch screenshot dir: %w", err)
	}

	// The file may have appeared before the watch was in place.
	if exists(abs) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("screenshot watcher closed")
			}
			if event.Name != abs {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				if exists(abs) {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("screenshot watcher closed")
			}
			return fmt.Errorf("watch screenshot: %w", err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path) // #nosec G304 -- screenshot path reported by the device
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path) // #nosec G304 -- path under the report directory
	if err != nil {
		return fmt.Errorf("create image trace: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode image trace: %w", err)
	}
	return f.Close()
}

// outline draws a rectangle border of the given thickness, clipped to the
// canvas.
func outline(canvas *image.RGBA, r exploration.Rect, thickness int, c color.Color) {
	rect := image.Rect(r.Left, r.Top, r.Right, r.Bottom).Intersect(canvas.Bounds())
	if rect.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness),
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y),
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(canvas, e.Intersect(rect), src, image.Point{}, draw.Src)
	}
}
