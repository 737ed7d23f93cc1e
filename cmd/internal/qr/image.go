package qr

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// Image rendering defaults. 512px with medium recovery scans reliably from
// across a room on the kiosk TVs.
const (
	imageSizePx       = 512
	imageDataURLStart = "data:image/png;base64,"
)

// RenderPNG encodes text as a QR code PNG.
func RenderPNG(text string) ([]byte, error) {
	return qrcode.Encode(text, qrcode.Medium, imageSizePx)
}

// RenderDataURL encodes text as a QR code and wraps it in a data URL, which
// is what displays render directly into an <img> tag.
func RenderDataURL(text string) (string, error) {
	png, err := RenderPNG(text)
	if err != nil {
		return "", err
	}
	return imageDataURLStart + base64.StdEncoding.EncodeToString(png), nil
}
