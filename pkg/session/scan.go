package session

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// ScanSink receives credential-scan payloads so an operator can retrieve
// them out of band. It returns where the payload was written.
type ScanSink interface {
	SaveScan(payload string) (string, error)
}

// QRFileSink renders scan payloads as a PNG QR code at a fixed path,
// overwriting the previous code.
type QRFileSink struct {
	Path string
	Size int // pixels; 256 when zero
}

func (s QRFileSink) SaveScan(payload string) (string, error) {
	size := s.Size
	if size <= 0 {
		size = 256
	}
	if err := qrcode.WriteFile(payload, qrcode.Medium, size, s.Path); err != nil {
		return "", fmt.Errorf("write qr image %s: %w", s.Path, err)
	}
	return s.Path, nil
}
