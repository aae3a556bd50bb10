// Package receipt extracts a spend amount suggestion from a receipt image.
// The result is a hint for pre-filling a transaction form, not a source of
// truth: callers should let the user confirm or correct it.
package receipt

import (
	"errors"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// ErrNoAmount is returned when no plausible monetary amount can be extracted.
var ErrNoAmount = errors.New("no amount detected")

// ScanAmount preprocesses the image, runs Tesseract and picks the most
// plausible total. Returns the amount in currency units (e.g. 12.95) and
// the raw matched substring for display/debugging.
func ScanAmount(path string) (float64, string, error) {
	text, err := ocrText(path)
	if err != nil {
		return 0, "", err
	}
	amt, raw, ok := BestAmount(text)
	if !ok {
		return 0, "", ErrNoAmount
	}
	return amt, raw, nil
}

// ocrText runs light preprocessing (grayscale, upscale small images) and
// a digit-biased Tesseract pass over the result.
func ocrText(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	gray := imaging.Grayscale(img)
	// Low-resolution photos OCR badly; upscale to a workable height.
	if gray.Bounds().Dy() < 800 {
		gray = imaging.Resize(gray, 0, 1200, imaging.Lanczos)
	}

	tmp := path
	if tmpFile, err := os.CreateTemp("", "receipt-*.png"); err == nil {
		tmp = tmpFile.Name()
		_ = tmpFile.Close()
		if err := imaging.Save(gray, tmp); err != nil {
			tmp = path
		}
	}
	if tmp != path {
		defer os.Remove(tmp)
	}

	client := gosseract.NewClient()
	defer client.Close()
	_ = client.SetLanguage("eng")
	// Keep letters so context words like TOTAL survive, but drop symbols
	// that only add noise.
	_ = client.SetWhitelist("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ$€£.,:()- ")
	if err := client.SetImage(tmp); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}
