package admin

type ProviderInfo struct {
	ID         string `json:"id"`
	Transient  bool   `json:"transient"`
	UserUpdate bool   `json:"userUpdate"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}

type ProvidersResponse struct {
	Default       string         `json:"default"`
	Providers     []ProviderInfo `json:"providers"`
	DispatchError string         `json:"dispatchError,omitempty"`
}

type RouteRequest struct {
	Repository string `form:"repository"`
	DocType    string `form:"doc_type"`
	XPath      string `form:"xpath"`
	MimeType   string `form:"mime_type"`
}

type RouteResponse struct {
	ProviderID string `json:"providerId"`
	Registered bool   `json:"registered"`
	Default    string `json:"default"`
}
