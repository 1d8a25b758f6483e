package whatsapp

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Media is a file loaded for sending as an attachment.
type Media struct {
	MimeType string `json:"mimetype"`
	Filename string `json:"filename"`
	Data     []byte `json:"data"` // base64 on the wire
}

// MediaOptions are the optional fields of a media send. An empty Caption
// is left out of the request entirely.
type MediaOptions struct {
	Caption string
}

// LoadMedia reads the file at path into a Media payload. The MIME type is
// taken from the extension, falling back to content sniffing.
func LoadMedia(path string) (*Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load media: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &Media{
		MimeType: mimeType,
		Filename: filepath.Base(path),
		Data:     data,
	}, nil
}
