package process

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

//go:embed builtins/*.js builtins/node/*.js
var builtinsSrc embed.FS

// BuiltinsFS is the subset of the VFS facade builtins provisioning needs.
type BuiltinsFS interface {
	WriteFile(ctx context.Context, path string, content []byte) error
	Mkdir(ctx context.Context, path string, mode uint32, recursive bool) error
}

// BuiltinsBundle is the content-addressed primordials/internalBinding
// resource: the embedded JS sources packaged as a single-layer OCI tarball
// so the bundle carries a stable content hash across kernel versions, the
// same way an OCI image layer is addressed.
type BuiltinsBundle struct {
	Layer v1.Layer
	Hash  v1.Hash
}

// LoadBuiltinsBundle packages the embedded builtins sources into an
// in-memory single-layer tarball and computes its content hash.
func LoadBuiltinsBundle() (*BuiltinsBundle, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := fs.WalkDir(builtinsSrc, "builtins", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := builtinsSrc.ReadFile(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{Name: path, Mode: 0o644, Size: int64(len(data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("process: walk builtins: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("process: build builtins layer: %w", err)
	}
	hash, err := layer.Digest()
	if err != nil {
		return nil, fmt.Errorf("process: digest builtins layer: %w", err)
	}
	return &BuiltinsBundle{Layer: layer, Hash: hash}, nil
}

// Provision unpacks the bundle into /builtins in the VFS, once per container
// boot.
func (b *BuiltinsBundle) Provision(ctx context.Context, fsys BuiltinsFS) error {
	rc, err := b.Layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("process: read builtins layer: %w", err)
	}
	defer rc.Close()

	if err := fsys.Mkdir(ctx, "/builtins", 0o755, true); err != nil {
		return fmt.Errorf("process: mkdir /builtins: %w", err)
	}

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("process: read builtins tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if dir := path.Dir("/" + hdr.Name); dir != "/builtins" {
			if err := fsys.Mkdir(ctx, dir, 0o755, true); err != nil {
				return fmt.Errorf("process: mkdir %s: %w", dir, err)
			}
		}
		if err := fsys.WriteFile(ctx, "/"+hdr.Name, data); err != nil {
			return fmt.Errorf("process: write %s: %w", hdr.Name, err)
		}
	}
	return nil
}
