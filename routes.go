package main

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"leaflens/auth"
	"leaflens/services"
	"leaflens/storage"
)

// routeDeps bündelt alles, was die Handler brauchen.
type routeDeps struct {
	DB             *gorm.DB
	Verifier       *auth.Verifier
	Inference      *services.InferenceService
	Predictions    *services.PredictionStore
	Catalog        *services.CatalogService
	Curation       *services.CurationService
	MaxUploadBytes int64
	// Nur gesetzt, wenn Bilder lokal abgelegt werden
	MediaURL  string
	MediaRoot string
	Logger    *zap.Logger
}

func newRouter(d routeDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.MediaRoot != "" {
		// nur die Vorhersagebilder, nicht den Rest der Ablage (z.B. backups/)
		dir := strings.TrimSuffix(storage.PredictionPrefix, "/")
		router.Static(strings.TrimRight(d.MediaURL, "/")+"/"+dir, filepath.Join(d.MediaRoot, dir))
	}

	api := router.Group("/api")
	api.Use(auth.Middleware(d.Verifier))

	setupPredictRoutes(api, d.Inference, d.MaxUploadBytes, d.Logger)
	setupPredictionRoutes(api, d.Predictions, d.Logger)
	setupDiseaseRoutes(api, d.Catalog, d.Logger)
	setupSuggestionRoutes(api, d.Curation, d.Logger)
	return router
}

// respondError übersetzt Service-Fehler in HTTP-Antworten.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrDiseaseNotFound),
		errors.Is(err, services.ErrPredictionNotFound),
		errors.Is(err, services.ErrSuggestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateSuggestion),
		errors.Is(err, services.ErrSuggestionNotPending):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidCategory),
		errors.Is(err, services.ErrEmptySuggestion),
		errors.Is(err, services.ErrUnknownDisease),
		errors.Is(err, services.ErrEmptyImage):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	id := uint(v)
	return &id, true
}

func queryDate(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return nil, false
	}
	return &t, true
}

func setupPredictRoutes(api *gin.RouterGroup, inference *services.InferenceService, maxUpload int64, log *zap.Logger) {
	rg := api.Group("/predict")

	rg.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"detail": "Use POST to upload image"})
	})

	// Multipart-Upload im Feld "image", anonym erlaubt
	rg.POST("/", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
		header, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
			return
		}

		ctx := c.Request.Context()
		prediction, err := inference.Predict(ctx, auth.FromContext(ctx), header.Filename, data)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, prediction)
	})
}

func setupPredictionRoutes(api *gin.RouterGroup, store *services.PredictionStore, log *zap.Logger) {
	rg := api.Group("/predictions")

	// Anonyme Aufrufer bekommen eine leere Liste
	rg.GET("/", func(c *gin.Context) {
		var f services.PredictionFilter
		var ok bool
		if f.DiseaseID, ok = queryUint(c, "predicted_disease"); !ok {
			return
		}
		if f.CreatedAfter, ok = queryDate(c, "created_at_after"); !ok {
			return
		}
		if f.CreatedBefore, ok = queryDate(c, "created_at_before"); !ok {
			return
		}
		f.DiseaseNameContains = c.Query("predicted_disease__name__icontains")

		ctx := c.Request.Context()
		predictions, err := store.ListByOwner(ctx, auth.FromContext(ctx), f)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, predictions)
	})

	rg.GET("/:id/", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		prediction, err := store.GetOwned(ctx, auth.FromContext(ctx), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, prediction)
	})

	rg.DELETE("/:id/", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if err := store.DeleteOwned(ctx, auth.FromContext(ctx), id); err != nil {
			respondError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func setupDiseaseRoutes(api *gin.RouterGroup, catalog *services.CatalogService, log *zap.Logger) {
	rg := api.Group("/diseases")

	rg.GET("/", func(c *gin.Context) {
		diseases, err := catalog.List(c.Request.Context(), services.DiseaseFilter{
			Name:                   c.Query("name"),
			NameContains:           c.Query("name__icontains"),
			ScientificName:         c.Query("scientific_name"),
			ScientificNameContains: c.Query("scientific_name__icontains"),
			Search:                 c.Query("search"),
		})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, diseases)
	})

	rg.GET("/:id/", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		disease, err := catalog.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, disease)
	})
}

func setupSuggestionRoutes(api *gin.RouterGroup, curation *services.CurationService, log *zap.Logger) {
	rg := api.Group("/suggestions")
	rg.Use(auth.RequireAuth())

	rg.POST("/", func(c *gin.Context) {
		var in services.SuggestionInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		ctx := c.Request.Context()
		suggestion, err := curation.Submit(ctx, auth.FromContext(ctx), in)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, suggestion)
	})

	rg.GET("/", func(c *gin.Context) {
		diseaseID, ok := queryUint(c, "disease")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		suggestions, err := curation.List(ctx, auth.FromContext(ctx), services.SuggestionFilter{
			DiseaseID: diseaseID,
			Category:  c.Query("type"),
			Status:    c.Query("status"),
			Search:    c.Query("search"),
		})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, suggestions)
	})

	rg.GET("/:id/", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		suggestion, err := curation.Get(ctx, auth.FromContext(ctx), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, suggestion)
	})

	rg.PATCH("/:id/approve/", auth.RequireAdmin(), func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		suggestion, err := curation.Approve(ctx, auth.FromContext(ctx), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":    "Suggestion approved and added to disease metadata",
			"suggestion": suggestion,
		})
	})

	rg.PATCH("/:id/reject/", auth.RequireAdmin(), func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		suggestion, err := curation.Reject(ctx, auth.FromContext(ctx), id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":    "Suggestion rejected",
			"suggestion": suggestion,
		})
	})
}
