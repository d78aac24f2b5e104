package sink

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/nfnt/resize"

	"github.com/edaniels/framegrab/pixel"
)

// asciiRamp maps intensity to characters, dark to bright.
const asciiRamp = " .:-=+*#%@"

// A TerminalDisplay draws frames as text. Line scan frames are drawn as a profile plot,
// area frames as character art.
type TerminalDisplay struct {
	Out    io.Writer
	Width  int
	Height int
}

// NewTerminalDisplay returns a display writing to out that is width columns wide and
// height rows tall.
func NewTerminalDisplay(out io.Writer, width, height int) *TerminalDisplay {
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 8
	}
	return &TerminalDisplay{Out: out, Width: width, Height: height}
}

// Name returns "terminal".
func (td *TerminalDisplay) Name() string {
	return "terminal"
}

// Show draws the frame.
func (td *TerminalDisplay) Show(ctx context.Context, f Frame) error {
	var lines []string
	if f.Height == 1 {
		lines = td.profile(f.Image)
	} else {
		lines = td.art(f.Image)
	}
	_, err := fmt.Fprintln(td.Out, strings.Join(lines, "\n"))
	return err
}

func (td *TerminalDisplay) profile(img image.Image) []string {
	small := resize.Resize(uint(td.Width), 1, img, resize.Bilinear)
	levels := make([]float64, td.Width)
	for x := range levels {
		levels[x] = float64(color.Gray16Model.Convert(small.At(small.Bounds().Min.X+x, small.Bounds().Min.Y)).(color.Gray16).Y)
	}
	lo, hi := levels[0], levels[0]
	for _, v := range levels {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	lines := make([]string, td.Height)
	for row := range lines {
		threshold := float64(td.Height-row) / float64(td.Height)
		var sb strings.Builder
		for _, v := range levels {
			norm := 1.0
			if hi > lo {
				norm = (v - lo) / (hi - lo)
			}
			if norm >= threshold-1e-9 {
				sb.WriteByte('#')
			} else {
				sb.WriteByte(' ')
			}
		}
		lines[row] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}

func (td *TerminalDisplay) art(img image.Image) []string {
	small := resize.Resize(uint(td.Width), uint(td.Height), img, resize.Bilinear)
	b := small.Bounds()
	lines := make([]string, 0, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		var sb strings.Builder
		for x := b.Min.X; x < b.Max.X; x++ {
			v := color.GrayModel.Convert(small.At(x, y)).(color.Gray).Y
			sb.WriteByte(asciiRamp[int(v)*(len(asciiRamp)-1)/255])
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// A PreviewDisplay writes every frame to an image file. Line scan frames are stretched
// into a band so they can be looked at.
type PreviewDisplay struct {
	Path       string
	MaxWidth   int
	BandHeight int
}

// NewPreviewDisplay returns a display writing to path; the image format follows the
// extension.
func NewPreviewDisplay(path string) *PreviewDisplay {
	return &PreviewDisplay{Path: path, MaxWidth: 1024, BandHeight: 64}
}

// Name returns "preview".
func (pd *PreviewDisplay) Name() string {
	return "preview"
}

// Show writes the preview.
func (pd *PreviewDisplay) Show(ctx context.Context, f Frame) error {
	return imaging.Save(Preview(f.Image, pd.MaxWidth, pd.BandHeight), pd.Path)
}

// Preview renders img for viewing: contrast stretched, at most maxWidth wide, and line
// scans repeated into a band bandHeight tall.
func Preview(img image.Image, maxWidth, bandHeight int) image.Image {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if maxWidth > 0 && width > maxWidth {
		height = int(math.Max(1, math.Round(float64(height)*float64(maxWidth)/float64(width))))
		width = maxWidth
	}
	if b.Dy() == 1 && bandHeight > 0 {
		height = bandHeight
	}
	return imaging.Resize(stretch(img), width, height, imaging.NearestNeighbor)
}

// stretch maps the intensity range of a grayscale image onto the full 8 bit range.
func stretch(img image.Image) image.Image {
	gray, ok := img.(*image.Gray16)
	if !ok {
		return img
	}
	lo, hi := uint16(math.MaxUint16), uint16(0)
	for i := 0; i+1 < len(gray.Pix); i += 2 {
		v := uint16(gray.Pix[i])<<8 | uint16(gray.Pix[i+1])
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := image.NewGray(gray.Bounds())
	span := float64(hi) - float64(lo)
	for i := 0; i+1 < len(gray.Pix); i += 2 {
		v := uint16(gray.Pix[i])<<8 | uint16(gray.Pix[i+1])
		if span > 0 {
			out.Pix[i/2] = uint8(math.Round(255 * (float64(v) - float64(lo)) / span))
		}
	}
	return out
}

// A StatsDisplay logs intensity statistics of every frame.
type StatsDisplay struct {
	logger golog.Logger
}

// NewStatsDisplay returns a display logging to logger.
func NewStatsDisplay(logger golog.Logger) *StatsDisplay {
	return &StatsDisplay{logger: logger.Named("stats")}
}

// Name returns "stats".
func (sd *StatsDisplay) Name() string {
	return "stats"
}

// Show logs the minimum, maximum and mean of the frame.
func (sd *StatsDisplay) Show(ctx context.Context, f Frame) error {
	stats, err := Measure(f)
	if err != nil {
		return err
	}
	sd.logger.Infow("frame",
		"id", f.ID,
		"width", f.Width,
		"height", f.Height,
		"min", stats.Min,
		"max", stats.Max,
		"mean", stats.Mean,
	)
	return nil
}

// Stats summarize the intensities of a frame.
type Stats struct {
	Min  uint16
	Max  uint16
	Mean float64
}

// Measure computes the statistics of a frame.
func Measure(f Frame) (Stats, error) {
	samples, err := pixel.Samples(f.Data, f.Layout, f.Width, f.Height)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(samples), nil
}

// Summarize computes the statistics of samples.
func Summarize(samples []uint16) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	s := Stats{Min: samples[0], Max: samples[0]}
	var sum float64
	for _, v := range samples {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += float64(v)
	}
	s.Mean = sum / float64(len(samples))
	return s
}
