// Package securestore encrypts job files at rest with a streaming
// encrypt-then-MAC construction: AES-256-CTR for confidentiality and
// HMAC-SHA256 over nonce plus ciphertext for integrity. The tag lives in a
// sidecar file next to the ciphertext so it can be verified in full before a
// single plaintext byte is written.
package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/roppunt/fixframe/internal/domain"
)

const (
	keySize   = 32
	nonceSize = 16
	tagSuffix = ".tag"
)

// Vault holds the process-wide key material. The symmetric key is never
// job-specific; only the nonce varies per file.
type Vault struct {
	encKey []byte
	macKey []byte
	logger *slog.Logger
}

// New provisions a vault from a 64-hex-character key. With an empty key and
// requireKey unset, an ephemeral key is generated and a warning logged:
// stored files become unrecoverable once the process exits.
func New(keyHex string, requireKey bool, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var master []byte
	switch {
	case keyHex != "":
		k, err := hex.DecodeString(keyHex)
		if err != nil || len(k) != keySize {
			return nil, fmt.Errorf("%w: encryption key must be %d hex characters", domain.ErrValidation, keySize*2)
		}
		master = k
	case requireKey:
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is required", domain.ErrValidation)
	default:
		master = make([]byte, keySize)
		if _, err := rand.Read(master); err != nil {
			return nil, err
		}
		logger.Warn("no encryption key configured, generated an ephemeral key; encrypted files will be unrecoverable after restart")
	}

	v := &Vault{logger: logger}
	var err error
	if v.encKey, err = deriveKey(master, "fixframe/encrypt"); err != nil {
		return nil, err
	}
	if v.macKey, err = deriveKey(master, "fixframe/authenticate"); err != nil {
		return nil, err
	}
	return v, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt streams sourcePath into an authenticated ciphertext at destPath,
// writing the tag to destPath+".tag". Returns the hex-encoded 16-byte nonce.
func (v *Vault) Encrypt(ctx context.Context, sourcePath, destPath string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", err
	}

	stream, err := v.ctrStream(nonce)
	if err != nil {
		dst.Close()
		return "", err
	}

	mac := hmac.New(sha256.New, v.macKey)
	mac.Write(nonce)

	// Ciphertext flows to disk and into the MAC in one bounded-buffer pass.
	w := cipher.StreamWriter{S: stream, W: io.MultiWriter(dst, mac)}
	if _, err := io.Copy(w, &contextReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		os.Remove(destPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return "", err
	}

	if err := os.WriteFile(destPath+tagSuffix, mac.Sum(nil), 0o600); err != nil {
		os.Remove(destPath)
		return "", err
	}
	return hex.EncodeToString(nonce), nil
}

// Decrypt verifies the sidecar tag over the full ciphertext, then streams the
// plaintext to destPath. A tag mismatch is domain.ErrIntegrity and no output
// file survives a failure on any path.
func (v *Vault) Decrypt(ctx context.Context, sourcePath, destPath, nonceHex string) error {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != nonceSize {
		return fmt.Errorf("%w: malformed nonce", domain.ErrIntegrity)
	}

	tag, err := os.ReadFile(sourcePath + tagSuffix)
	if err != nil {
		return fmt.Errorf("%w: missing authentication tag: %v", domain.ErrIntegrity, err)
	}

	if err := v.verifyTag(ctx, sourcePath, nonce, tag); err != nil {
		return err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}

	stream, err := v.ctrStream(nonce)
	if err != nil {
		dst.Close()
		os.Remove(destPath)
		return err
	}

	r := cipher.StreamReader{S: stream, R: &contextReader{ctx: ctx, r: src}}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(destPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return err
	}
	return nil
}

// verifyTag recomputes the MAC over nonce plus ciphertext in a streaming pass.
func (v *Vault) verifyTag(ctx context.Context, sourcePath string, nonce, tag []byte) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	mac := hmac.New(sha256.New, v.macKey)
	mac.Write(nonce)
	if _, err := io.Copy(mac, &contextReader{ctx: ctx, r: src}); err != nil {
		return err
	}
	if !hmac.Equal(mac.Sum(nil), tag) {
		return fmt.Errorf("%w: authentication tag mismatch for %s", domain.ErrIntegrity, sourcePath)
	}
	return nil
}

// Remove deletes a ciphertext blob and its tag file. Missing files are fine.
func (v *Vault) Remove(path string) error {
	var errs []error
	for _, p := range []string{path, path + tagSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Vault) ctrStream(nonce []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, nonce), nil
}

// contextReader aborts a long streaming copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
