package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"codocs/internal/hub"
	"codocs/internal/service/document"
	"codocs/internal/service/extract"
	"codocs/internal/ws"
)

const defaultMaxUploadBytes = 10 << 20 // 10 MB

// Handler wires HTTP routes to the document service, the extraction service,
// and the websocket collaboration endpoint.
type Handler struct {
	docs       *document.Service
	extractor  *extract.Service
	hub        *hub.Hub
	fileBase   string
	maxUpload  int64
	autosaveMS int
}

// NewHandler constructs a Handler instance.
func NewHandler(docs *document.Service, extractor *extract.Service, h *hub.Hub, fileBase string, maxUpload int64, autosaveMS int) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		docs:       docs,
		extractor:  extractor,
		hub:        h,
		fileBase:   fileBase,
		maxUpload:  maxUpload,
		autosaveMS: autosaveMS,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/doc", h.createDocument)
	api.GET("/doc/:id", h.getDocument)
	api.POST("/upload", h.uploadFile)
	router.GET("/ws", h.serveWS)
	router.Static("/uploads", h.fileBase)
}

type createDocumentRequest struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

func (h *Handler) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	doc, err := h.docs.Create(c.Request.Context(), req.Title, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) getDocument(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, err := h.docs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) serveWS(c *gin.Context) {
	ws.ServeWS(h.hub, h.docs, h.autosaveMS, c.Writer, c.Request)
}

func (h *Handler) uploadFile(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	filename := filepath.Base(file.Filename)
	destPath, storedName := h.uniqueFilePath(filename)
	if err := os.MkdirAll(h.fileBase, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	text, err := h.extractor.Text(destPath, filename)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to parse uploaded file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"text":     text,
		"filename": filename,
		"path":     "/uploads/" + storedName,
	})
}

// uniqueFilePath picks a name under the upload dir that does not collide with
// an existing file, suffixing " (n)" like the original upload flow.
func (h *Handler) uniqueFilePath(filename string) (string, string) {
	destPath := filepath.Join(h.fileBase, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		path := filepath.Join(h.fileBase, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return filepath.Join(h.fileBase, fallback), fallback
}
