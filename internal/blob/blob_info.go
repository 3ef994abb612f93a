package blob

import "strings"

// BlobInfo is the durable projection of a blob stored as a document property value.
// Key alone is enough to get the bytes back; the other fields cache metadata so that
// displaying a blob does not require a round trip to storage.
type BlobInfo struct {
	Key      string `json:"key" yaml:"key" db:"key"`
	MimeType string `json:"mimeType,omitempty" yaml:"mime_type,omitempty" db:"mime_type"`
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty" db:"encoding"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty" db:"filename"`
	Length   int64  `json:"length" yaml:"length" db:"length"`
	Digest   string `json:"digest,omitempty" yaml:"digest,omitempty" db:"digest"`
}

// NewBlobInfo projects the metadata of b under key. Called once, when the blob is written.
func NewBlobInfo(key string, b Blob) *BlobInfo {
	return &BlobInfo{
		Key:      key,
		MimeType: b.MimeType(),
		Encoding: b.Encoding(),
		Filename: b.Filename(),
		Length:   b.Length(),
		Digest:   b.Digest(),
	}
}

func (i *BlobInfo) keyOnly() bool {
	return i.MimeType == "" && i.Encoding == "" && i.Filename == "" && i.Digest == ""
}

// ===================================================================================================

const keySeparator = ":"

// SplitKey splits key on its first colon.
// hasPrefix is false for bare keys, in which case raw is the whole key.
func SplitKey(key string) (prefix string, raw string, hasPrefix bool) {
	prefix, raw, hasPrefix = strings.Cut(key, keySeparator)
	if !hasPrefix {
		return "", key, false
	}
	return prefix, raw, true
}

// JoinKey builds a prefixed key
func JoinKey(providerID, raw string) string {
	return providerID + keySeparator + raw
}

// StripKeyPrefix drops everything up to and including the first colon
func StripKeyPrefix(key string) string {
	_, raw, _ := SplitKey(key)
	return raw
}
