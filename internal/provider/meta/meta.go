// Package meta is the metadata record providers keep next to blob content.
package meta

import (
	"time"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/vmihailenco/msgpack/v5"
)

// Metadata is stored as JSON in sidecar files and as msgpack in binary stores
type Metadata struct {
	MimeType  string    `json:"mimeType,omitempty" msgpack:"m,omitempty"`
	Encoding  string    `json:"encoding,omitempty" msgpack:"e,omitempty"`
	Filename  string    `json:"filename,omitempty" msgpack:"f,omitempty"`
	Length    int64     `json:"length" msgpack:"l"`
	Digest    string    `json:"digest,omitempty" msgpack:"d,omitempty"`
	CreatedAt time.Time `json:"createdAt" msgpack:"t"`
}

// FromBlob captures the descriptive fields of b. length and digest are the measured
// values, not the declared ones.
func FromBlob(b blob.Blob, length int64, digest string) *Metadata {
	return &Metadata{
		MimeType:  b.MimeType(),
		Encoding:  b.Encoding(),
		Filename:  b.Filename(),
		Length:    length,
		Digest:    digest,
		CreatedAt: time.Now().UTC(),
	}
}

// Options turns the record back into blob options
func (m *Metadata) Options() []blob.Option {
	return []blob.Option{
		blob.WithMimeType(m.MimeType),
		blob.WithEncoding(m.Encoding),
		blob.WithFilename(m.Filename),
		blob.WithDigest(m.Digest),
	}
}

func Marshal(m *Metadata) ([]byte, error) {
	return jsonMarshal(m)
}

func Unmarshal(data []byte) (*Metadata, error) {
	var m Metadata
	if err := jsonUnmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func MarshalBinary(m *Metadata) ([]byte, error) {
	return msgpack.Marshal(m)
}

func UnmarshalBinary(data []byte) (*Metadata, error) {
	var m Metadata
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
