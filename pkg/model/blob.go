// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"bytes"
	"io"
	"os"
)

// BlobHandle is the byte-stream proxy a resolver hands back for a BlobRef.
// The payload is embedded into the record at creation time.
type BlobHandle interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// MemoryBlob is a BlobHandle over an in-memory payload.
type MemoryBlob struct {
	name string
	data []byte
}

func NewMemoryBlob(name string, data []byte) MemoryBlob {
	return MemoryBlob{name: name, data: bytes.Clone(data)}
}

func (b MemoryBlob) Name() string {
	return b.name
}

func (b MemoryBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// FileBlob is a BlobHandle over a file on disk.
type FileBlob struct {
	name string
	path string
}

func NewFileBlob(name, path string) FileBlob {
	return FileBlob{name: name, path: path}
}

func (b FileBlob) Name() string {
	return b.name
}

func (b FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(b.path)
}
