package blob

import (
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"sync"

	"github.com/minio/sha256-simd"
)

// DigestBytes returns the hex sha256 of data
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader hashes and counts everything read through it
type DigestReader struct {
	r    io.Reader
	hash hash.Hash
	n    int64
}

// NewDigestReader wraps r with a sha256 hash and a byte counter
func NewDigestReader(r io.Reader) *DigestReader {
	return &DigestReader{r: r, hash: sha256.New()}
}

func (d *DigestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.hash.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// Digest returns the hex sha256 of the bytes read so far
func (d *DigestReader) Digest() string {
	return hex.EncodeToString(d.hash.Sum(nil))
}

// BytesRead returns the number of bytes read so far
func (d *DigestReader) BytesRead() int64 {
	return d.n
}

// ===================================================================================================

// MeasuredBlob fills in the length and digest a source blob does not declare, by counting
// and hashing the content while a provider reads it. Declared values are kept as they are.
type MeasuredBlob struct {
	Blob

	mu     sync.Mutex
	length int64
	digest string
}

// NewMeasuredBlob wraps b, starting from the length and digest it declares
func NewMeasuredBlob(b Blob) *MeasuredBlob {
	return &MeasuredBlob{Blob: b, length: b.Length(), digest: b.Digest()}
}

// NeedsMeasure reports whether b leaves its length or digest unknown
func NeedsMeasure(b Blob) bool {
	return b.Length() < 0 || b.Digest() == ""
}

// Open implements Blob
func (m *MeasuredBlob) Open() (io.ReadCloser, error) {
	rc, err := m.Blob.Open()
	if err != nil {
		return nil, err
	}
	return &measuringReader{DigestReader: NewDigestReader(rc), closer: rc, owner: m}, nil
}

// Length returns the declared length, or the measured one after a complete read
func (m *MeasuredBlob) Length() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length
}

// Digest returns the declared digest, or the measured one after a complete read
func (m *MeasuredBlob) Digest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digest
}

// record is called once a reader has reached the end of the content
func (m *MeasuredBlob) record(n int64, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Blob.Length() < 0 {
		m.length = n
	}
	if m.Blob.Digest() == "" {
		m.digest = digest
	}
}

type measuringReader struct {
	*DigestReader
	closer io.Closer
	owner  *MeasuredBlob
	done   bool
}

func (r *measuringReader) Read(p []byte) (int, error) {
	n, err := r.DigestReader.Read(p)
	if errors.Is(err, io.EOF) && !r.done {
		r.done = true
		r.owner.record(r.BytesRead(), r.Digest())
	}
	return n, err
}

func (r *measuringReader) Close() error {
	return r.closer.Close()
}

// ReadAllDigest reads b fully and returns its content with the sha256 digest
func ReadAllDigest(b Blob) ([]byte, string, error) {
	data, err := ReadAll(b)
	if err != nil {
		return nil, "", err
	}
	return data, DigestBytes(data), nil
}
