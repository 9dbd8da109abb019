/*
Package blob stores payment evidence (transfer receipts) out of band.

PURPOSE:
  Payments carry only an opaque Ref to their evidence. The API layer stores
  the upload before the payment transition runs, so no lock is ever held
  during file I/O.

IMPLEMENTATIONS:
  FS:     Files under a root directory (production)
  Memory: Map-backed (tests)

SEE ALSO:
  - api/handlers.go: Reportar stores the comprobante, then reports
*/
package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MaxSize bounds a single evidence upload.
const MaxSize = 5 << 20

var (
	ErrNotFound        = errors.New("blob: not found")
	ErrEmpty           = errors.New("blob: empty content")
	ErrTooLarge        = errors.New("blob: content too large")
	ErrUnsupportedType = errors.New("blob: unsupported content type")
	ErrInvalidRef      = errors.New("blob: invalid reference")
)

// Ref identifies a stored blob, e.g. "evidence/5b0c...e1.png".
type Ref string

// Store persists evidence blobs.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, string, error)
}

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// checkContent validates data and resolves its content type, sniffing it
// when the declared type is empty or generic.
func checkContent(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxSize)
	}

	ct := declared
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		ct = mt
	}
	if ct == "" || ct == "application/octet-stream" {
		ct, _, _ = strings.Cut(http.DetectContentType(data), ";")
	}
	if _, ok := allowedTypes[ct]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, nil
}

func newRef(contentType string) Ref {
	return Ref("evidence/" + uuid.NewString() + allowedTypes[contentType])
}

// contentTypeOf maps a ref back to the type it was stored with.
func contentTypeOf(ref Ref) string {
	s := string(ref)
	for ct, ext := range allowedTypes {
		if strings.HasSuffix(s, ext) {
			return ct
		}
	}
	return "application/octet-stream"
}

func validRef(ref Ref) bool {
	s := string(ref)
	return strings.HasPrefix(s, "evidence/") && !strings.Contains(s, "..") && !strings.ContainsAny(s[len("evidence/"):], `/\`)
}
