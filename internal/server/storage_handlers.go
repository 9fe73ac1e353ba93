package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opUpload   = "storage.upload"
	opDownload = "storage.download"

	defaultContentType = "application/octet-stream"
)

var errForeignPath = errors.New("object path must start with the uploader's id")

type uploadPayload struct {
	URL    string         `json:"url"`
	Object storage.Object `json:"object"`
}

// handleUpload stores the raw request body at ?path inside the bucket.
// Uploaders may only write below their own id.
func (h *httpHandler) handleUpload(c *gin.Context) {
	userID := currentUserID(c)
	bucket := c.Param("bucket")
	objectPath, err := storage.ValidateLocation(opUpload, bucket, c.Query("path"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !strings.HasPrefix(objectPath, userID+"/") {
		h.respondError(c, apperr.New(opUpload, "forbidden_path", apperr.KindForbidden, errForeignPath))
		return
	}
	if c.Request.ContentLength > storage.MaxObjectSize {
		h.respondError(c, apperr.Invalid(opUpload, "body", errors.New("object too large")))
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = defaultContentType
	}
	upsert, _ := strconv.ParseBool(c.Query("upsert"))

	object, err := h.storage.Put(c.Request.Context(), bucket, objectPath, contentType, c.Request.Body, upsert)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Debug("object stored",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int64("size", object.Size))
	c.JSON(http.StatusCreated, uploadPayload{URL: storage.PublicURL(h.baseURL(c), bucket, objectPath), Object: object})
}

func (h *httpHandler) handleDownload(c *gin.Context) {
	bucket := c.Param("bucket")
	objectPath, err := storage.ValidateLocation(opDownload, bucket, c.Param("path"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	reader, object, err := h.storage.Get(c.Request.Context(), bucket, objectPath)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()
	c.Header("Cache-Control", "public, max-age=300")
	c.DataFromReader(http.StatusOK, object.Size, object.ContentType, reader, nil)
}

// baseURL is the configured public address, or the address the request
// reached when none is configured.
func (h *httpHandler) baseURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
