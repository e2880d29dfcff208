// Package httpapi exposes the connection flow over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-adconnect/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the connection surface the routes drive.
type Service interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.RedirectTarget, error)
	HandleCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
	ListActive(ctx context.Context, userID string) ([]core.ConnectedAccount, error)
}

type Handler struct {
	service Service
	auth    *SessionAuthenticator
	logger  glog.Logger
}

type HandlerOption func(*Handler)

func WithLogger(logger glog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = glog.Ensure(logger)
	}
}

func NewHandler(service Service, auth *SessionAuthenticator, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, auth: auth, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// NewRouter mounts every route on a fresh gin engine.
func NewRouter(service Service, auth *SessionAuthenticator, opts ...HandlerOption) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	NewHandler(service, auth, opts...).Register(router)
	return router
}

func (h *Handler) Register(router gin.IRouter) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/")
	authed.Use(h.auth.Middleware())
	authed.POST("/connections/:platform", h.Initiate)
	authed.GET("/connections", h.ListConnections)
	authed.DELETE("/connections/:platform/:account_id", h.Disconnect)
	authed.GET("/oauth/callback", h.Callback)
}

func (h *Handler) Initiate(c *gin.Context) {
	target, err := h.service.Initiate(c.Request.Context(), core.InitiateRequest{
		UserID:   UserID(c),
		Platform: c.Param("platform"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"platform":   target.Platform,
		"url":        target.URL,
		"state":      target.State,
		"expires_at": target.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Callback(c *gin.Context) {
	req := core.ParseCallbackQuery(UserID(c), c.Request.URL.Query())
	result, err := h.service.HandleCallback(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	accounts := make([]gin.H, 0, len(result.Accounts))
	for _, identity := range result.Accounts {
		accounts = append(accounts, gin.H{
			"account_id":   identity.AccountID,
			"account_name": identity.AccountName,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"platform":    result.Platform,
		"reconnected": result.Reconnected,
		"account":     accountView(result.Account),
		"accounts":    accounts,
	})
}

func (h *Handler) ListConnections(c *gin.Context) {
	accounts, err := h.service.ListActive(c.Request.Context(), UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]gin.H, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, accountView(account))
	}
	c.JSON(http.StatusOK, gin.H{"connections": views})
}

func (h *Handler) Disconnect(c *gin.Context) {
	err := h.service.Disconnect(c.Request.Context(), core.DisconnectRequest{
		UserID:    UserID(c),
		Platform:  c.Param("platform"),
		AccountID: c.Param("account_id"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", c.FullPath(),
			"error_code", string(core.ReasonOf(err)),
		)
	} else {
		h.logger.Info("request rejected",
			"path", c.FullPath(),
			"status", status,
			"error_code", string(core.ReasonOf(err)),
		)
	}
	c.JSON(status, errorBody(err))
}

// accountView omits tokens.
func accountView(account core.ConnectedAccount) gin.H {
	view := gin.H{
		"platform":     account.Platform,
		"account_id":   account.AccountID,
		"account_name": account.AccountName,
		"connected_at": account.ConnectedAt.UTC().Format(time.RFC3339),
	}
	if account.Tokens.ExpiresAt != nil {
		view["token_expires_at"] = account.Tokens.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return view
}

// errorBody carries the public code; the precise reason stays in the logs.
func errorBody(err error) gin.H {
	return gin.H{
		"error":   core.PublicCode(err),
		"message": core.UserMessage(err),
	}
}
