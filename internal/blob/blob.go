package blob

import (
	"bytes"
	"io"
	"os"
	"sync"
)

// Blob is binary content plus the metadata describing it.
// Length is -1 when unknown. Open may be called once or many times depending on the
// implementation; single-use blobs fail with ErrBlobConsumed on the second call.
type Blob interface {
	MimeType() string
	Encoding() string
	Filename() string
	Length() int64
	Digest() string
	Open() (io.ReadCloser, error)
}

// Meta holds the descriptive fields shared by every Blob implementation.
type Meta struct {
	mimeType string
	encoding string
	filename string
	length   int64
	digest   string
}

func (m *Meta) MimeType() string { return m.mimeType }
func (m *Meta) Encoding() string { return m.encoding }
func (m *Meta) Filename() string { return m.filename }
func (m *Meta) Length() int64    { return m.length }
func (m *Meta) Digest() string   { return m.digest }

// Option sets a metadata field on a blob at construction time
type Option func(*Meta)

// WithMimeType sets the declared mime type
func WithMimeType(mimeType string) Option {
	return func(m *Meta) {
		m.mimeType = mimeType
	}
}

// WithEncoding sets the character encoding, e.g. utf-8
func WithEncoding(encoding string) Option {
	return func(m *Meta) {
		m.encoding = encoding
	}
}

// WithFilename sets the original file name
func WithFilename(filename string) Option {
	return func(m *Meta) {
		m.filename = filename
	}
}

// WithDigest sets a digest known ahead of the write
func WithDigest(digest string) Option {
	return func(m *Meta) {
		m.digest = digest
	}
}

// WithLength overrides the length. Only useful for ReaderBlob, where it is otherwise unknown.
func WithLength(length int64) Option {
	return func(m *Meta) {
		m.length = length
	}
}

func newMeta(length int64, opts []Option) Meta {
	m := Meta{length: length}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// ===================================================================================================

// BytesBlob is an in-memory blob. It can be opened any number of times.
type BytesBlob struct {
	Meta
	data []byte
}

// NewBytesBlob creates a blob over data. The slice is not copied.
func NewBytesBlob(data []byte, opts ...Option) *BytesBlob {
	return &BytesBlob{
		Meta: newMeta(int64(len(data)), opts),
		data: data,
	}
}

// NewStringBlob creates a blob over the bytes of s
func NewStringBlob(s string, opts ...Option) *BytesBlob {
	return NewBytesBlob([]byte(s), opts...)
}

func (b *BytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Bytes returns the underlying content without copying
func (b *BytesBlob) Bytes() []byte {
	return b.data
}

// ===================================================================================================

// ReaderBlob wraps a stream that can be consumed exactly once.
type ReaderBlob struct {
	Meta
	mu     sync.Mutex
	reader io.ReadCloser
}

// NewReaderBlob wraps r. Its length is -1 unless set WithLength.
func NewReaderBlob(r io.Reader, opts ...Option) *ReaderBlob {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return &ReaderBlob{
		Meta:   newMeta(-1, opts),
		reader: rc,
	}
}

// Open hands out the stream once, later calls fail with ErrBlobConsumed
func (b *ReaderBlob) Open() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reader == nil {
		return nil, ErrBlobConsumed
	}
	r := b.reader
	b.reader = nil
	return r, nil
}

// ===================================================================================================

// FileBlob is backed by a file on disk. Each Open returns a fresh file handle.
type FileBlob struct {
	Meta
	path string
}

// NewFileBlob stats path to fill in the length and fails if the file does not exist
func NewFileBlob(path string, opts ...Option) (*FileBlob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileBlob{
		Meta: newMeta(info.Size(), opts),
		path: path,
	}, nil
}

func (b *FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(b.path)
}

// Path returns the file backing the blob
func (b *FileBlob) Path() string {
	return b.path
}

// ReadAll opens the blob and reads it to the end
func ReadAll(b Blob) ([]byte, error) {
	rc, err := b.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
