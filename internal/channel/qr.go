// ABOUTME: QR payload rendering for the pairing flow
// ABOUTME: Encodes the raw pairing payload to a PNG data URL

package channel

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// renderQRImage encodes a pairing payload as a PNG data URL suitable for
// embedding in an <img> tag.
func renderQRImage(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encoding QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
