package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultProofURLExpiry bounds how long a review link stays valid.
const DefaultProofURLExpiry = 15 * time.Minute

// maxProofSize caps proof uploads at 5 MiB.
const maxProofSize = 5 << 20

var proofExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ProofImages stores payment proof screenshots and resolves review URLs.
type ProofImages struct {
	store  ObjectStore
	expiry time.Duration
}

// NewProofImages wraps an object store. A zero expiry selects the default.
func NewProofImages(store ObjectStore, expiry time.Duration) *ProofImages {
	if expiry <= 0 {
		expiry = DefaultProofURLExpiry
	}
	return &ProofImages{store: store, expiry: expiry}
}

// Save uploads one proof image and returns its object key.
func (p *ProofImages) Save(ctx context.Context, userEmail, contentType string, r io.Reader, size int64) (string, error) {
	ext, ok := proofExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("unsupported proof image type %q", contentType)
	}
	if size <= 0 || size > maxProofSize {
		return "", fmt.Errorf("proof image size %d out of range", size)
	}
	key := fmt.Sprintf("proofs/%s/%s%s", sanitizeEmail(userEmail), uuid.NewString(), ext)
	if err := p.store.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("store proof image: %w", err)
	}
	return key, nil
}

// URL returns a pre-signed link to a stored proof image.
func (p *ProofImages) URL(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("proof key required")
	}
	return p.store.PresignGet(ctx, key, p.expiry)
}

// Delete removes a stored proof image.
func (p *ProofImages) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, key)
}

func sanitizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	replacer := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", " ", "_")
	return replacer.Replace(email)
}
