package blob

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/server/handlers/api"
	"github.com/openmined/blobdispatch/internal/server/middlewares"
	"github.com/openmined/blobdispatch/internal/utils"
)

const sniffLen = 512

// BlobHandler serves blob upload and download
type BlobHandler struct {
	manager       *docblob.Manager
	maxUploadSize int64
}

// New creates a BlobHandler. maxUploadSize of 0 or less means no limit.
func New(manager *docblob.Manager, maxUploadSize int64) *BlobHandler {
	return &BlobHandler{manager: manager, maxUploadSize: maxUploadSize}
}

// Upload stores the multipart "file" for a document property and returns its BlobInfo
func (h *BlobHandler) Upload(ctx *gin.Context) {
	if h.maxUploadSize > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxUploadSize)
	}

	var req UploadRequest
	if err := ctx.ShouldBind(&req); err != nil {
		abortBadUpload(ctx, fmt.Errorf("invalid request: %w", err))
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		abortBadUpload(ctx, fmt.Errorf("invalid file: %w", err))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = file.Header.Get("Content-Type")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		head := make([]byte, sniffLen)
		n, _ := io.ReadFull(fd, head)
		if _, err := fd.Seek(0, io.SeekStart); err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
			return
		}
		mimeType = utils.SniffContentType(file.Filename, head[:n])
	}
	mimeType, charset := utils.SplitContentType(mimeType)

	encoding := req.Encoding
	if encoding == "" {
		encoding = charset
	}

	src := blob.NewReaderBlob(fd,
		blob.WithMimeType(mimeType),
		blob.WithEncoding(encoding),
		blob.WithFilename(file.Filename),
		blob.WithLength(file.Size),
	)

	doc := docblob.DocRef{DocType: req.DocType, RepositoryName: req.Repository}
	info, err := h.manager.StoreBlob(ctx.Request.Context(), src, doc, req.XPath)
	if err != nil {
		api.AbortWithBlobError(ctx, api.CodeBlobPutFailed, err)
		return
	}

	ctx.Header(middlewares.HeaderBlobKey, info.Key)
	ctx.PureJSON(http.StatusCreated, info)
}

// Content streams the content behind a key. The cached metadata the document holds
// can be passed along and is echoed in the response headers.
func (h *BlobHandler) Content(ctx *gin.Context) {
	var req ContentRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	info := &blob.BlobInfo{
		Key:      req.Key,
		MimeType: req.MimeType,
		Encoding: req.Encoding,
		Filename: req.Filename,
		Length:   req.Length,
		Digest:   req.Digest,
	}

	mb, err := h.manager.ReadBlob(ctx.Request.Context(), info, req.Repository)
	if err != nil {
		api.AbortWithBlobError(ctx, api.CodeBlobGetFailed, err)
		return
	}

	rc, err := mb.Open()
	if err != nil {
		api.AbortWithBlobError(ctx, api.CodeBlobGetFailed, err)
		return
	}
	defer rc.Close()

	contentType := mb.MimeType()
	if contentType == "" {
		contentType = "application/octet-stream"
	} else if mb.Encoding() != "" {
		contentType = mime.FormatMediaType(contentType, map[string]string{"charset": mb.Encoding()})
	}

	headers := map[string]string{
		middlewares.HeaderBlobKey:      mb.Key(),
		middlewares.HeaderBlobProvider: mb.ProviderID(),
	}
	if mb.Digest() != "" {
		headers[middlewares.HeaderBlobDigest] = mb.Digest()
	}
	if mb.Filename() != "" {
		headers["Content-Disposition"] = mime.FormatMediaType("attachment", map[string]string{"filename": mb.Filename()})
	}

	ctx.DataFromReader(http.StatusOK, -1, contentType, rc, headers)
}

// Info resolves a key without reading content
func (h *BlobHandler) Info(ctx *gin.Context) {
	var req ContentRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	res, err := h.manager.Resolve(req.Key, req.Repository)
	if err != nil {
		api.AbortWithBlobError(ctx, api.CodeBlobGetFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &KeyInfoResponse{
		Key:        req.Key,
		ProviderID: res.ProviderID,
		RawKey:     res.RawKey,
		Prefixed:   res.Prefixed,
		Transient:  blob.IsTransient(res.Provider),
	})
}

func abortBadUpload(ctx *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	// multipart parsing does not always wrap the reader error
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeBlobTooLarge, err)
		return
	}
	api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
}
