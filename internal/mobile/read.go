package mobile

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// MaxImageBytes bounds the size of a captured image.
const MaxImageBytes = 10 << 20

var (
	ErrImageTooLarge   = errors.New("image exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported image type")
)

// ReadImage loads a JPEG or PNG file and returns it base64 encoded.
func ReadImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return EncodeImage(f)
}

// EncodeImage reads an image from r and returns it base64 encoded.
func EncodeImage(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return "", ErrImageTooLarge
	}
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
