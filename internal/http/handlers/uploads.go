package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkarwoski/userdeck/internal/config"
)

type UploadsHandler struct {
	cfg config.Config
}

func NewUploadsHandler(cfg config.Config) *UploadsHandler {
	return &UploadsHandler{cfg: cfg}
}

// Upload stores one multipart file under the upload directory and returns
// the public path the client can reference it by.
func (h *UploadsHandler) Upload(ctx *gin.Context) {
	file, err := ctx.FormFile("file")

	if err != nil {
		RespondBadRequest(ctx, "No file uploaded", gin.H{"form": "file"})
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		RespondInternal(ctx, "Could not store file")
		return
	}

	// strip any path components the client sent along
	base := filepath.Base(file.Filename)
	base = strings.ReplaceAll(base, " ", "_")

	name := fmt.Sprintf("%d-%s", time.Now().Unix(), base)
	dst := filepath.Join(h.cfg.UploadDir, name)

	if err := ctx.SaveUploadedFile(file, dst); err != nil {
		RespondInternal(ctx, "Could not store file")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"filePath": h.cfg.PublicBaseURL + "/uploads/" + name,
	})
}
