// modgate/handlers/uploads.go
package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"

	"modgate/config"
	"modgate/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
}

// upload is a validated, decoded image attachment that has not been stored yet.
type upload struct {
	img    image.Image
	format string
	hash   string
}

// readUpload reads and validates the optional "image" form file. It returns
// nil when the request carries no image.
func readUpload(r *http.Request, logger *slog.Logger) (*upload, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not get form file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Error("Failed to close upload file", "error", err)
		}
	}()

	limitedReader := &io.LimitedReader{R: file, N: config.MaxFileSize + 1}
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("could not read file data: %w", err)
	}
	if limitedReader.N == 0 {
		return nil, fmt.Errorf("file is larger than the %dMB limit", config.MaxFileSize/1024/1024)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	// Magic byte validation
	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		logger.Warn("User uploaded file with invalid MIME type", "detected_type", contentType, "filename", header.Filename)
		return nil, fmt.Errorf("unsupported file type: %s. Only JPG, PNG, GIF, and WebP are allowed", contentType)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image format, could not decode config: %w", err)
	}
	if cfg.Width > config.MaxWidth || cfg.Height > config.MaxHeight {
		return nil, fmt.Errorf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, config.MaxWidth, config.MaxHeight)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image with orientation correction: %w", err)
	}

	hash := sha256.Sum256(data)
	return &upload{img: img, format: format, hash: hex.EncodeToString(hash[:])}, nil
}

// saveUpload stores the re-encoded image and a thumbnail, and fills in the
// post's attachment columns. Identical uploads reuse the stored file. It
// returns the paths of files it wrote.
func saveUpload(ctx context.Context, app App, u *upload, post *models.Post, logger *slog.Logger) ([]string, error) {
	post.ImageHash = u.hash
	path, thumb, err := app.DB().FindImageByHash(ctx, u.hash)
	if err == nil {
		post.ImagePath, post.ThumbnailPath = path, thumb
		return nil, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		logger.Error("Failed to check for existing image hash", "error", err)
	}

	// Everything but PNG is stored as JPEG.
	outputFormat, ext, contentType := imaging.JPEG, "jpeg", "image/jpeg"
	if u.format == "png" {
		outputFormat, ext, contentType = imaging.PNG, "png", "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, u.img, outputFormat, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode main image: %w", err)
	}
	base := fmt.Sprintf("%s_%s", uuid.NewString(), u.hash[:12])
	mainPath, err := app.Storage().SaveFile(base+"."+ext, buf.Bytes(), contentType)
	if err != nil {
		return nil, fmt.Errorf("could not save main image: %w", err)
	}
	post.ImagePath = mainPath
	written := []string{mainPath}

	// A missing thumbnail does not fail the post.
	thumbImg := imaging.Fit(u.img, config.ThumbnailWidth, config.ThumbnailHeight, imaging.Lanczos)
	buf.Reset()
	if err := imaging.Encode(&buf, thumbImg, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		logger.Error("Failed to encode thumbnail", "error", err)
		return written, nil
	}
	thumbPath, err := app.Storage().SaveFile(base+"_thumb.jpeg", buf.Bytes(), "image/jpeg")
	if err != nil {
		logger.Error("Could not save thumbnail", "error", err)
		return written, nil
	}
	post.ThumbnailPath = sql.NullString{String: thumbPath, Valid: true}
	return append(written, thumbPath), nil
}

// discardUpload removes files written for a post that was never saved.
func discardUpload(app App, paths []string, logger *slog.Logger) {
	for _, p := range paths {
		if err := app.Storage().DeleteFile(p); err != nil {
			logger.Warn("Failed to remove unused attachment", "path", p, "error", err)
		}
	}
}
