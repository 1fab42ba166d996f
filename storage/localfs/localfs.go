package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/storage"
)

const compressedExt = ".zst"

// CAS is a local filesystem-backed content-addressable store.
//
// Objects are written once, keyed by the sha2-256 CID of their bytes and
// sharded by the first two characters of the CID. With compression enabled
// objects are stored zstd encoded; reads accept both forms.
type CAS struct {
	root     string
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// New constructs a filesystem CAS rooted at root. The directory will be created if needed.
func New(root string, compress bool) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, xerrors.Errorf("localfs: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("localfs: zstd decoder: %w", err)
	}
	return &CAS{root: root, compress: compress, enc: enc, dec: dec}, nil
}

func (c *CAS) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", storage.ErrEmpty
	}
	locator, err := cidutil.SumString(data, cidutil.SHA256)
	if err != nil {
		return "", err
	}
	if _, err := c.Get(ctx, locator); err == nil {
		return locator, nil
	}

	path := c.pathFor(locator)
	payload := data
	if c.compress {
		path += compressedExt
		payload = c.enc.EncodeAll(data, nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			return locator, nil
		}
		return "", xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	return locator, nil
}

func (c *CAS) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if locator == "" {
		return nil, storage.ErrNotFound
	}
	path := c.pathFor(locator)
	b, err := os.ReadFile(path + compressedExt)
	if err == nil {
		out, err := c.dec.DecodeAll(b, nil)
		if err != nil {
			// a damaged frame is returned as is so the digest check catches it
			return b, nil
		}
		return out, nil
	}
	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	b, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Errorf("localfs: %v: %w", err, storage.ErrTransient)
	}
	return b, nil
}

func (c *CAS) pathFor(locator string) string {
	s := filepath.Base(locator)
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}
	return filepath.Join(c.root, s[:2], s)
}

// Close releases the compression codecs.
func (c *CAS) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

var _ storage.CAS = (*CAS)(nil)
