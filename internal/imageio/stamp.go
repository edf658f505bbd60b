package imageio

import (
	"image"
	"image/color"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const stampMargin = 12

// stampTimestamp draws ts onto img near the bottom-left corner, white
// text over a one-pixel black shadow for legibility on bright frames.
func stampTimestamp(img *image.NRGBA, ts time.Time, opts Options) error {
	face, closeFace, err := loadFace(opts)
	if err != nil {
		return err
	}
	if closeFace != nil {
		defer closeFace()
	}

	text := ts.Format(opts.TimestampFormat)
	x := stampMargin
	y := img.Bounds().Dy() - stampMargin

	drawString(img, face, text, x+1, y+1, color.Black)
	drawString(img, face, text, x, y, color.White)
	return nil
}

func drawString(img *image.NRGBA, face font.Face, text string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// loadFace returns the configured TTF face, or the bundled bitmap face
// when no font path is set.
func loadFace(opts Options) (font.Face, func(), error) {
	if opts.FontPath == "" {
		return basicfont.Face7x13, nil, nil
	}

	data, err := os.ReadFile(opts.FontPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read font %s", opts.FontPath)
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse font %s", opts.FontPath)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    opts.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "build face from %s", opts.FontPath)
	}
	return face, func() { face.Close() }, nil
}
