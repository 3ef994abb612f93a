package admin

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/server/handlers/api"
)

// AdminHandler serves read-only views of providers and dispatch
type AdminHandler struct {
	manager *docblob.Manager
}

// New creates an AdminHandler
func New(manager *docblob.Manager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

// Providers lists every registered provider along with its health
func (h *AdminHandler) Providers(ctx *gin.Context) {
	registry := h.manager.Registry()
	health := registry.CheckHealth(ctx.Request.Context())

	res := &ProvidersResponse{
		Default:   registry.DefaultProvider(),
		Providers: make([]ProviderInfo, 0, registry.Len()),
	}

	for _, id := range registry.ProviderIDs() {
		p, err := registry.GetProvider(id)
		if err != nil {
			// removed between listing and lookup
			continue
		}
		info := ProviderInfo{
			ID:         id,
			Transient:  blob.IsTransient(p),
			UserUpdate: p.SupportsUserUpdate(),
			Healthy:    health[id] == nil,
		}
		if err := health[id]; err != nil {
			info.Error = err.Error()
		}
		res.Providers = append(res.Providers, info)
	}

	if err := h.manager.Validate(); err != nil {
		res.DispatchError = err.Error()
	}

	ctx.PureJSON(http.StatusOK, res)
}

// Route reports which provider a new blob with the given target would be written to
func (h *AdminHandler) Route(ctx *gin.Context) {
	var req RouteRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	target := dispatch.Target{
		Repository: req.Repository,
		DocType:    req.DocType,
		XPath:      req.XPath,
	}
	providerID := h.manager.Route(target, blob.NewBytesBlob(nil, blob.WithMimeType(req.MimeType)))

	ctx.PureJSON(http.StatusOK, &RouteResponse{
		ProviderID: providerID,
		Registered: h.manager.Registry().HasProvider(providerID),
		Default:    h.manager.Dispatcher().DefaultProvider(req.Repository),
	})
}
