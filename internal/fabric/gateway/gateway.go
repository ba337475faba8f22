// Package gateway serves a trust ledger as a fabric: the REST and gRPC
// endpoints that fabric.HTTPClient and fabric.GRPCClient talk to.
package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
	"go.uber.org/zap"
)

// anonymous is recorded as submitter when the gateway runs without a signer.
const anonymous = "anonymous"

// Handler exposes the trust ledger over HTTP.
type Handler struct {
	ledger  trustledger.Ledger
	signer  *fabric.Signer
	clients map[string]string // client_id -> client_secret
	logger  *zap.Logger
}

// NewHandler creates a Handler. A nil signer disables authentication.
func NewHandler(ledger trustledger.Ledger, signer *fabric.Signer, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, signer: signer, clients: map[string]string{}, logger: logger}
}

// AddClient registers OAuth2 client credentials accepted by the token endpoint.
func (h *Handler) AddClient(id, secret string) {
	h.clients[id] = secret
}

// Register mounts the transaction and ledger routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	tx := rg.Group("/transactions", h.requireCredential)
	{
		tx.POST("", h.Submit)
		tx.GET("/:tx_id", h.GetTransaction)
	}

	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:idx", h.GetEntry)
	}
}

// RegisterToken mounts the OAuth2 client-credentials token endpoint.
func (h *Handler) RegisterToken(engine *gin.Engine) {
	engine.POST("/oauth/token", h.Token)
}

// Submit handles POST /transactions.
func (h *Handler) Submit(c *gin.Context) {
	var req fabric.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), req.ContentHash, submitter(c))
	if err != nil {
		if errors.Is(err, trustledger.ErrInvalidHash) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("append ledger entry", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}

	h.logger.Info("hash anchored",
		zap.String("content_hash", entry.ContentHash),
		zap.String("tx_id", entry.TxID()),
		zap.Int("idx", entry.Index),
	)
	c.JSON(http.StatusCreated, fabric.SubmitResponse{TxID: entry.TxID(), Index: entry.Index})
}

// GetTransaction handles GET /transactions/:tx_id.
func (h *Handler) GetTransaction(c *gin.Context) {
	entry, err := h.ledger.GetByTxID(c.Request.Context(), c.Param("tx_id"))
	if err != nil {
		if errors.Is(err, trustledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		h.logger.Error("lookup ledger tx", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, fabric.TransactionResponse{
		TxID:        entry.TxID(),
		Index:       entry.Index,
		ContentHash: entry.ContentHash,
		Submitter:   entry.Submitter,
		Timestamp:   entry.Timestamp,
	})
}

// Overview handles GET /ledger. It returns the chain length and current root hash.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": count, "root": root})
}

// Verify handles GET /ledger/verify. It walks the full chain and reports integrity.
func (h *Handler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /ledger/entries/:idx.
func (h *Handler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}
	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Token handles POST /oauth/token for the client_credentials grant.
func (h *Handler) Token(c *gin.Context) {
	if h.signer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token endpoint disabled"})
		return
	}
	if c.PostForm("grant_type") != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	id, secret, ok := c.Request.BasicAuth()
	if !ok {
		id, secret = c.PostForm("client_id"), c.PostForm("client_secret")
	}
	want, known := h.clients[id]
	if !known || subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	tok, err := h.signer.Sign(id)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(h.signer.TTL().Seconds()),
	})
}

// requireCredential verifies the bearer credential when a signer is set and
// stores its subject for use as the ledger submitter.
func (h *Handler) requireCredential(c *gin.Context) {
	if h.signer == nil {
		c.Next()
		return
	}
	tok, ok := bearer(c.GetHeader("Authorization"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
		return
	}
	sub, err := h.signer.Verify(tok)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}
	c.Set("submitter", sub)
	c.Next()
}

func submitter(c *gin.Context) string {
	if s := c.GetString("submitter"); s != "" {
		return s
	}
	return anonymous
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
