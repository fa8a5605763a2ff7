package attendance

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	base64Marker    = "base64,"
	jpegDataURIHead = "data:image/jpeg;" + base64Marker
)

// ErrInvalidPhoto is returned when a photo is not decodable base64.
var ErrInvalidPhoto = errors.New("photo must be a base64 encoded image")

// SanitizePhoto repairs data URIs that clients prefixed twice, such as
// "data:image/jpeg;base64,data:image/png;base64,<payload>". Only the
// payload after the last marker is kept. Applying it twice changes nothing.
func SanitizePhoto(photo string) string {
	parts := strings.Split(photo, base64Marker)
	if len(parts) <= 2 {
		return photo
	}
	return jpegDataURIHead + parts[len(parts)-1]
}

// DecodePhoto strips any data URI prefix and decodes the base64 payload.
func DecodePhoto(photo string) ([]byte, error) {
	payload := photo
	if i := strings.LastIndex(payload, base64Marker); i >= 0 {
		payload = payload[i+len(base64Marker):]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrInvalidPhoto
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients drop the padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, ErrInvalidPhoto
		}
	}
	return raw, nil
}

// PhotoDigestRef is the reference stored when no archive is configured.
func PhotoDigestRef(photo []byte) string {
	sum := sha256.Sum256(photo)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// PhotoArchive stores an accepted selfie and returns a durable reference.
type PhotoArchive interface {
	Archive(ctx context.Context, name string, photo []byte) (string, error)
}
