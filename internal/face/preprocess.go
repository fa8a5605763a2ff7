package face

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	// MaxDimension bounds both sides of the image handed to the model.
	MaxDimension = 640
	jpegQuality  = 80
)

// Preprocess normalises a photo for detection: EXIF orientation applied,
// scaled to fit MaxDimension without upscaling, and re-encoded as JPEG.
func Preprocess(photo []byte) ([]byte, error) {
	img, err := decode(photo)
	if err != nil {
		return nil, err
	}
	img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(photo []byte) (image.Image, error) {
	if len(photo) == 0 {
		return nil, ErrUnsupportedImage
	}
	head := photo
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)

	switch {
	case strings.Contains(ct, "webp"):
		img, err := webp.Decode(bytes.NewReader(photo))
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrUnsupportedImage, err)
		}
		return img, nil
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "png"), strings.Contains(ct, "gif"):
		img, err := imaging.Decode(bytes.NewReader(photo), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
	}
}
