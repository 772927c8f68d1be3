package fileserver

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"docconvert/logger"
	"docconvert/models"

	"github.com/gin-gonic/gin"
)

const originalArea = "original"

type FileLookup interface {
	GetFile(ctx context.Context, id int64) (*models.SourceFile, error)
	HasActiveConversion(ctx context.Context, converter string, sourceFileID int64) (bool, error)
}

type BlobOpener interface {
	Open(ctx context.Context, contentHash string) (io.ReadCloser, int64, error)
}

// Handler serves source files to the document server. The document server
// cannot authenticate, so a file is only served while all of these hold:
// the area is "original", the path carries the file's content hash, and a
// conversion of the file is pending or in progress.
type Handler struct {
	files     FileLookup
	blobs     BlobOpener
	converter string
}

func NewHandler(files FileLookup, blobs BlobOpener, converter string) *Handler {
	return &Handler{files: files, blobs: blobs, converter: converter}
}

func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery())
	router.Use(RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/files/:area/:itemid/:contenthash/*filename", h.ServeOriginal)

	return router
}

func (h *Handler) ServeOriginal(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithContext(ctx)

	if c.Param("area") != originalArea {
		c.Status(http.StatusNotFound)
		return
	}

	itemID, err := strconv.ParseInt(c.Param("itemid"), 10, 64)
	if err != nil || itemID <= 0 {
		c.Status(http.StatusNotFound)
		return
	}

	active, err := h.files.HasActiveConversion(ctx, h.converter, itemID)
	if err != nil {
		log.Error("failed to check conversions", "file_id", itemID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if !active {
		c.Status(http.StatusNotFound)
		return
	}

	file, err := h.files.GetFile(ctx, itemID)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	// The hash keeps guessed ids from being fetched.
	if subtle.ConstantTimeCompare([]byte(file.ContentHash), []byte(c.Param("contenthash"))) != 1 {
		log.Warn("content hash mismatch", "file_id", itemID, "client_ip", c.ClientIP())
		c.Status(http.StatusNotFound)
		return
	}

	body, size, err := h.blobs.Open(ctx, file.ContentHash)
	if err != nil {
		log.Error("failed to open source file", "file_id", itemID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	defer body.Close()

	if size <= 0 {
		size = file.Size
	}
	if size <= 0 {
		size = -1
	}
	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, size, contentType, body, map[string]string{
		"Cache-Control": "max-age=3600",
	})
}
