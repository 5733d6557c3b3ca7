package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/fetch"
	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

const optimizedVariant = "optimized"

type optimizeResult struct {
	ID               string       `json:"id"`
	Format           types.Format `json:"format"`
	Size             int64        `json:"size"`
	OriginalSize     int64        `json:"originalSize"`
	CompressionRatio float64      `json:"compressionRatio"`
	Width            int          `json:"width"`
	Height           int          `json:"height"`
	Quality          int          `json:"quality"`
	URL              string       `json:"url"`
	URLs             types.URLSet `json:"urls"`
	Key              string       `json:"key"`
	Existed          bool         `json:"existed"`
}

type optimizeResponse struct {
	Success bool            `json:"success"`
	Result  *optimizeResult `json:"result"`
}

type variantsRequest struct {
	Source   string            `json:"source"`
	Variants []string          `json:"variants"`
	Tags     map[string]string `json:"tags"`
}

type variantsResponse struct {
	Success bool                            `json:"success"`
	ID      string                          `json:"id"`
	Results map[string]*types.VariantResult `json:"results"`
	Errors  []variantErrorBody              `json:"errors,omitempty"`
}

type variantErrorBody struct {
	Variant string `json:"variant"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Optimize transcodes one uploaded file into a single variant described by
// the form fields format, quality, width and height.
func (h *Handler) Optimize(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	if fileHeader.Size > h.config.MaxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.config.MaxUploadBytes))
		return
	}

	variant, err := h.parseOptimizeForm(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// staged under UploadDir for the length of the run
	staged, err := utils.PathUtil(h.config.UploadDir, uuid.NewString()+filepath.Ext(fileHeader.Filename))
	if err != nil {
		h.log.Error("upload dir unavailable", zap.String("dir", h.config.UploadDir), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "could not store upload")
		return
	}
	if err := c.SaveUploadedFile(fileHeader, staged); err != nil {
		h.log.Error("failed to stage upload", zap.String("path", staged), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.log.Warn("failed to remove staged upload", zap.String("path", staged), zap.Error(err))
		}
	}()

	results, err := h.processor.Run(c.Request.Context(), staged, map[string]types.VariantConfig{optimizedVariant: variant}, nil)
	if err != nil {
		h.log.Warn("optimize failed", zap.String("source", fileHeader.Filename), zap.Error(err))
		respondError(c, statusFor(err), err.Error())
		return
	}

	res := results[optimizedVariant]
	c.JSON(http.StatusOK, optimizeResponse{
		Success: true,
		Result: &optimizeResult{
			ID:               uuid.NewString(),
			Format:           res.Stats.Format,
			Size:             res.Stats.Size,
			OriginalSize:     res.Stats.OriginalSize,
			CompressionRatio: res.Stats.CompressionRatio(),
			Width:            res.Stats.Width,
			Height:           res.Stats.Height,
			Quality:          res.Stats.Quality,
			URL:              res.Object.URLs.CDN,
			URLs:             res.Object.URLs,
			Key:              res.Object.Key,
			Existed:          res.Object.Existed,
		},
	})
}

func (h *Handler) parseOptimizeForm(c *gin.Context) (types.VariantConfig, error) {
	variant := types.VariantConfig{
		Format:    types.WEBP,
		Quality:   h.config.DefaultQuality,
		MaxWidth:  h.config.MaxWidth,
		MaxHeight: h.config.MaxHeight,
	}
	if f := c.PostForm("format"); f != "" {
		format, err := types.ParseFormat(f)
		if err != nil {
			return variant, err
		}
		variant.Format = format
	}
	fields := []struct {
		name string
		dst  *int
		min  int
		max  int
	}{
		{"quality", &variant.Quality, 1, 100},
		{"width", &variant.MaxWidth, 1, h.config.MaxWidth},
		{"height", &variant.MaxHeight, 1, h.config.MaxHeight},
	}
	for _, field := range fields {
		raw := c.PostForm(field.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < field.min || (field.max > 0 && n > field.max) {
			return variant, fmt.Errorf("%s must be an integer within %d-%d", field.name, field.min, field.max)
		}
		*field.dst = n
	}
	return variant, variant.Validate()
}

// Variants runs the named presets against a remote or s3:// source. A
// partial failure answers 207 with both the results and the itemised errors.
func (h *Handler) Variants(c *gin.Context) {
	var req variantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Source == "" {
		respondError(c, http.StatusBadRequest, "source is required")
		return
	}
	// local paths would expose the server's filesystem
	if !fetch.IsRemote(req.Source) {
		respondError(c, http.StatusBadRequest, "source must be an http(s) or s3 url")
		return
	}
	variants, err := h.catalog.Select(req.Variants)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	results, err := h.processor.Run(c.Request.Context(), req.Source, variants, req.Tags)
	resp := variantsResponse{Success: err == nil, ID: id, Results: results}

	var pf *types.PartialFailure
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.As(err, &pf):
		for _, f := range pf.Failures {
			resp.Errors = append(resp.Errors, variantErrorBody{Variant: f.Variant, Step: f.Step, Message: f.Err.Error()})
		}
		status := http.StatusMultiStatus
		if pf.AllFailed() {
			status = statusFor(pf)
		}
		h.log.Warn("variants failed", zap.String("source", req.Source), zap.Error(err))
		c.JSON(status, resp)
	default:
		h.log.Warn("variants request failed", zap.String("source", req.Source), zap.Error(err))
		respondError(c, statusFor(err), err.Error())
	}
}
