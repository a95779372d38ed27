package clients

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ProofStorage holds return and payment proof images. The loan core never
// reads an image back; it only checks that a submitted ref exists and hands
// out URLs for admins reviewing a return.
type ProofStorage interface {
	Save(ctx context.Context, fileName string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, ref string) (bool, error)
	URL(ctx context.Context, ref string) (string, error)
}

// LocalStorage keeps proofs on the local filesystem, for development and
// single-node deployments. Production uses the S3 backend.
type LocalStorage struct {
	BaseDir      string
	PublicPrefix string // URL prefix where files are served, e.g. "/files/proofs"
	BaseURL      string // optional absolute base URL (scheme+host[:port])
}

func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./proofs"
	}
	if publicPrefix == "" {
		publicPrefix = "/files/proofs"
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage dir %q: %w", baseDir, err)
	}

	return &LocalStorage{BaseDir: baseDir, PublicPrefix: publicPrefix, BaseURL: baseURL}, nil
}

// Save writes data under a random-prefixed name (preserving the original
// filename suffix) and returns the ref.
func (s *LocalStorage) Save(ctx context.Context, fileName string, data []byte, contentType string) (string, error) {
	// sanitize the provided filename to avoid path traversal
	fileName = filepath.Base(fileName)

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate file name: %w", err)
	}
	unique := hex.EncodeToString(randBytes)
	final := fmt.Sprintf("%s_%s", unique, fileName)

	path := filepath.Join(s.BaseDir, final)
	// write atomically so a half-written proof never passes an existence check
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}

	return final, nil
}

func (s *LocalStorage) Exists(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.BaseDir, filepath.Base(ref)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LocalStorage) URL(ctx context.Context, ref string) (string, error) {
	prefix := s.PublicPrefix
	if prefix == "" {
		prefix = "/files/proofs"
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}

	if s.BaseURL != "" {
		base := s.BaseURL
		if base[len(base)-1] == '/' {
			base = base[:len(base)-1]
		}
		return fmt.Sprintf("%s%s/%s", base, prefix, ref), nil
	}

	return fmt.Sprintf("%s/%s", prefix, ref), nil
}
