// Package imaging holds the image operations used by the iteration nodes:
// codec helpers, grid split and merge, stacking and raw frame decoding.
package imaging

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Format is an encoded image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// FormatFromPath infers the format from a file extension. Unknown extensions
// default to PNG.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	}
	return FormatPNG
}

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Encode writes img in the given format.
func Encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case FormatPNG, "":
		return png.Encode(w, img)
	}
	return fmt.Errorf("%w: unsupported image format %q", derrors.ErrInvalidArgument, format)
}

// SplitGrid cuts img into rows*cols equally sized tiles in row-major order.
// Dimensions that are not divisible by the grid are a configuration error.
func SplitGrid(img image.Image, rows, cols int) ([]image.Image, error) {
	if rows < 1 || cols < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "grid %dx%d must have at least one row and column", rows, cols)
	}
	b := img.Bounds()
	if b.Dx()%cols != 0 || b.Dy()%rows != 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument,
			"image size %dx%d is not divisible into %d rows and %d columns", b.Dx(), b.Dy(), rows, cols)
	}
	w, h := b.Dx()/cols, b.Dy()/rows
	tiles := make([]image.Image, 0, rows*cols)
	for r := range rows {
		for c := range cols {
			rect := image.Rect(b.Min.X+c*w, b.Min.Y+r*h, b.Min.X+(c+1)*w, b.Min.Y+(r+1)*h)
			tiles = append(tiles, crop(img, rect))
		}
	}
	return tiles, nil
}

// Tile returns one tile of a rows*cols grid without cutting the others.
func Tile(img image.Image, rows, cols, index int) (image.Image, error) {
	b := img.Bounds()
	if rows < 1 || cols < 1 || b.Dx()%cols != 0 || b.Dy()%rows != 0 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument,
			"image size %dx%d is not divisible into %d rows and %d columns", b.Dx(), b.Dy(), rows, cols)
	}
	if index < 0 || index >= rows*cols {
		return nil, fmt.Errorf("%w: tile %d outside %dx%d grid", derrors.ErrInvalidArgument, index, rows, cols)
	}
	w, h := b.Dx()/cols, b.Dy()/rows
	r, c := index/cols, index%cols
	return crop(img, image.Rect(b.Min.X+c*w, b.Min.Y+r*h, b.Min.X+(c+1)*w, b.Min.Y+(r+1)*h)), nil
}

func crop(img image.Image, rect image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// MergeGrid places equally sized tiles into a grid with cols columns in
// row-major order. The last row may be partially filled.
func MergeGrid(tiles []image.Image, cols int) (image.Image, error) {
	if len(tiles) == 0 {
		return nil, derrors.Empty("merge grid")
	}
	if cols < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "grid needs at least one column, got %d", cols)
	}
	size := tiles[0].Bounds().Size()
	for i, t := range tiles {
		if t.Bounds().Size() != size {
			return nil, fmt.Errorf("%w: tile %d is %v, expected %v", derrors.ErrInvalidArgument, i, t.Bounds().Size(), size)
		}
	}
	cols = min(cols, len(tiles))
	rows := (len(tiles) + cols - 1) / cols
	out := image.NewRGBA(image.Rect(0, 0, size.X*cols, size.Y*rows))
	for i, t := range tiles {
		at := image.Pt((i%cols)*size.X, (i/cols)*size.Y)
		draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(size)}, t, t.Bounds().Min, draw.Src)
	}
	return out, nil
}

// Orientation is the stacking direction.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// Stack concatenates images along orientation. Images narrower (or shorter)
// than the widest one are aligned to the top-left corner.
func Stack(images []image.Image, orientation Orientation) (image.Image, error) {
	if len(images) == 0 {
		return nil, derrors.Empty("stack")
	}
	var width, height int
	for _, img := range images {
		s := img.Bounds().Size()
		switch orientation {
		case Horizontal:
			width += s.X
			height = max(height, s.Y)
		case Vertical:
			width = max(width, s.X)
			height += s.Y
		default:
			return nil, derrors.Configuration(derrors.ErrInvalidArgument, "unknown orientation %q", orientation)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	offset := 0
	for _, img := range images {
		b := img.Bounds()
		at := image.Pt(0, offset)
		if orientation == Horizontal {
			at = image.Pt(offset, 0)
		}
		draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(b.Size())}, img, b.Min, draw.Src)
		if orientation == Horizontal {
			offset += b.Dx()
		} else {
			offset += b.Dy()
		}
	}
	return out, nil
}

// FrameReader decodes a stream of raw rgb24 frames, such as the output of
// `ffmpeg -f rawvideo -pix_fmt rgb24 -`.
type FrameReader struct {
	r      io.Reader
	width  int
	height int
	buf    []byte
}

// NewFrameReader creates a reader for frames of the given size.
func NewFrameReader(r io.Reader, width, height int) (*FrameReader, error) {
	if width < 1 || height < 1 {
		return nil, derrors.Configuration(derrors.ErrInvalidArgument, "frame size %dx%d is invalid", width, height)
	}
	return &FrameReader{r: r, width: width, height: height, buf: make([]byte, width*height*3)}, nil
}

// Next returns the next frame. It returns io.EOF after the last complete
// frame and io.ErrUnexpectedEOF when the stream ends inside a frame.
func (f *FrameReader) Next() (*image.RGBA, error) {
	if _, err := io.ReadFull(f.r, f.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for i, j := 0, 0; i < len(f.buf); i, j = i+3, j+4 {
		img.Pix[j] = f.buf[i]
		img.Pix[j+1] = f.buf[i+1]
		img.Pix[j+2] = f.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
