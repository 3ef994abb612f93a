package api

const (
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeAccessDenied   = "E_ACCESS_DENIED" // missing or invalid bearer token

	CodeBlobNotFound      = "E_BLOB_NOT_FOUND"
	CodeBlobPutFailed     = "E_BLOB_PUT_OPERATION_FAILED" // provider write failed
	CodeBlobGetFailed     = "E_BLOB_GET_OPERATION_FAILED" // provider read failed
	CodeBlobTooLarge      = "E_BLOB_TOO_LARGE"
	CodeUnknownProvider   = "E_UNKNOWN_PROVIDER"   // dispatch picked an unregistered provider
	CodeUnresolvableKey   = "E_UNRESOLVABLE_KEY"   // key names no provider and there is no default
	CodeDispatchMisconfig = "E_DISPATCH_MISCONFIGURED"
)
