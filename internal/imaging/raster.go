package imaging

import "image"

// Raster is the decoded, analysis-ready form of an upload. Pixel planes are
// built once by the loader and treated as read-only by every stage that
// consumes them.
type Raster struct {
	Width      int
	Height     int
	Channels   int
	Format     string
	ColorSpace string

	// Source dimensions before the analysis downscale.
	SourceWidth  int
	SourceHeight int

	Pixels *image.NRGBA
	Luma   *image.Gray
	Meta   Metadata
}

// Metadata is the slice of EXIF the tamper checks consume. Fields are empty
// strings when the source carried no usable value.
type Metadata struct {
	Present          bool
	Software         string
	DateTime         string
	DateTimeOriginal string
}

// Bounds returns the analysis-space rectangle of the raster.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// LumaFloats copies the grayscale plane into a float64 slice in row-major
// order, the form the statistical checks operate on.
func (r *Raster) LumaFloats() []float64 {
	out := make([]float64, r.Width*r.Height)
	for y := 0; y < r.Height; y++ {
		row := r.Luma.Pix[y*r.Luma.Stride : y*r.Luma.Stride+r.Width]
		for x, p := range row {
			out[y*r.Width+x] = float64(p)
		}
	}
	return out
}
