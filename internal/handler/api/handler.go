package api

import (
	"net/http"
	"time"

	"crypto_view/internal/domain"
	"crypto_view/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// Dashboard is the presentation service the handlers read from.
type Dashboard interface {
	Rows(q service.RowQuery) []service.Row
	Row(id domain.AssetID) (service.Row, error)
	Movers(n int) service.Movers
	Insights() service.Insights
	Portfolio() service.Portfolio
	Favorites() []domain.AssetID
	ToggleFavorite(id domain.AssetID) (bool, error)
	SetHolding(id domain.AssetID, quantity decimal.Decimal) error
}

// StatusSource reports aggregator health.
type StatusSource interface {
	Status() service.ViewStatus
}

// IconStore resolves cached logo files.
type IconStore interface {
	IconPath(id domain.AssetID) (string, bool)
}

// Handler wires the dashboard to HTTP routes.
type Handler struct {
	dashboard   Dashboard
	status      StatusSource
	icons       IconStore
	lastUpdated func() time.Time
}

// NewHandler creates a Handler. icons and lastUpdated may be nil.
func NewHandler(dashboard Dashboard, status StatusSource, icons IconStore, lastUpdated func() time.Time) *Handler {
	return &Handler{
		dashboard:   dashboard,
		status:      status,
		icons:       icons,
		lastUpdated: lastUpdated,
	}
}

// RegisterRoutes registers all API routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/assets", h.listAssets)
	g.GET("/assets/:id", h.getAsset)
	g.GET("/movers", h.movers)
	g.GET("/insights", h.insights)
	g.GET("/portfolio", h.portfolio)
	g.PUT("/portfolio/:id", h.setHolding)
	g.GET("/favorites", h.favorites)
	g.POST("/favorites/:id/toggle", h.toggleFavorite)
	g.GET("/status", h.getStatus)

	e.GET("/icons/:id", h.icon)
}

type listAssetsRequest struct {
	Query     string `query:"q" validate:"max=64"`
	Sort      string `query:"sort" default:"market_cap" validate:"oneof=market_cap price change_1h change_24h change_7d volume name symbol"`
	Dir       string `query:"dir" default:"desc" validate:"oneof=asc desc"`
	Favorites bool   `query:"favorites"`
	Limit     int    `query:"limit" validate:"gte=0,lte=250"`
}

func (h *Handler) listAssets(c echo.Context) error {
	var req listAssetsRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	rows := h.dashboard.Rows(service.RowQuery{
		Search:        req.Query,
		FavoritesOnly: req.Favorites,
		SortKey:       req.Sort,
		Direction:     req.Dir,
		Limit:         req.Limit,
	})
	return ListResponse(c, rows, len(rows))
}

type assetPathRequest struct {
	ID string `param:"id" validate:"required,max=100"`
}

func (h *Handler) getAsset(c echo.Context) error {
	var req assetPathRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	row, err := h.dashboard.Row(domain.AssetID(req.ID))
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, row)
}

type moversRequest struct {
	N int `query:"n" default:"5" validate:"gte=1,lte=50"`
}

func (h *Handler) movers(c echo.Context) error {
	var req moversRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	return SuccessResponse(c, h.dashboard.Movers(req.N))
}

func (h *Handler) insights(c echo.Context) error {
	return SuccessResponse(c, h.dashboard.Insights())
}

func (h *Handler) portfolio(c echo.Context) error {
	return SuccessResponse(c, h.dashboard.Portfolio())
}

type setHoldingRequest struct {
	ID       string `param:"id" validate:"required,max=100"`
	Quantity string `json:"quantity" validate:"required,numeric"`
}

func (h *Handler) setHolding(c echo.Context) error {
	var req setHoldingRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return BadRequestResponse(c, []ValidationError{{Code: "ERR_NUMERIC", Field: "quantity", Message: err.Error()}})
	}
	if err := h.dashboard.SetHolding(domain.AssetID(req.ID), qty); err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, h.dashboard.Portfolio())
}

func (h *Handler) favorites(c echo.Context) error {
	return SuccessResponse(c, h.dashboard.Favorites())
}

type toggleResponse struct {
	ID       domain.AssetID `json:"id"`
	Favorite bool           `json:"favorite"`
}

func (h *Handler) toggleFavorite(c echo.Context) error {
	var req assetPathRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	id := domain.NormalizeAssetID(req.ID)
	fav, err := h.dashboard.ToggleFavorite(id)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return SuccessResponse(c, toggleResponse{ID: id, Favorite: fav})
}

type statusResponse struct {
	service.ViewStatus
	LastUpdated time.Time `json:"last_updated"`
}

func (h *Handler) getStatus(c echo.Context) error {
	resp := statusResponse{ViewStatus: h.status.Status()}
	if h.lastUpdated != nil {
		resp.LastUpdated = h.lastUpdated()
	}
	return SuccessResponse(c, resp)
}

func (h *Handler) icon(c echo.Context) error {
	if h.icons == nil {
		return NotFoundResponse(c, "icons disabled")
	}
	path, ok := h.icons.IconPath(domain.AssetID(c.Param("id")))
	if !ok {
		return NotFoundResponse(c, "icon not cached")
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.File(path)
}

// health is a bare liveness check outside the envelope.
func health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
