package blob

type UploadRequest struct {
	Repository string `form:"repository" binding:"required"`
	DocType    string `form:"doc_type" binding:"required"`
	XPath      string `form:"xpath" binding:"required"`
	MimeType   string `form:"mime_type"`
	Encoding   string `form:"encoding"`
}

// ContentRequest carries a key plus whatever metadata the document cached for it
type ContentRequest struct {
	Key        string `form:"key" binding:"required"`
	Repository string `form:"repository"`
	MimeType   string `form:"mime_type"`
	Encoding   string `form:"encoding"`
	Filename   string `form:"filename"`
	Length     int64  `form:"length,default=-1"`
	Digest     string `form:"digest"`
}

type KeyInfoResponse struct {
	Key        string `json:"key"`
	ProviderID string `json:"providerId"`
	RawKey     string `json:"rawKey"`
	Prefixed   bool   `json:"prefixed"`
	Transient  bool   `json:"transient"`
}
