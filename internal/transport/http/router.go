package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter builds the HTTP surface and registers it against handler.
func NewRouter(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", handler.Healthz).Methods("GET")

	r.HandleFunc("/upload/multipart", handler.UploadMultipart).Methods("POST")
	r.HandleFunc("/upload/remote", handler.UploadRemote).Methods("POST")
	r.HandleFunc("/download/yt-dlp", handler.DownloadExtractor).Methods("POST")

	r.HandleFunc("/jobs/{id}", handler.JobSnapshot).Methods("GET")

	r.HandleFunc("/videos/{id}/download", handler.DownloadMezzanine).Methods("GET")
	r.HandleFunc("/videos/{id}", handler.DownloadMezzanine).Methods("GET")
	r.HandleFunc("/videos/{id}/hls/{asset:.*}", handler.HLSAsset).Methods("GET")
	r.HandleFunc("/videos/{id}/dash/{asset:.*}", handler.DASHAsset).Methods("GET")

	return r
}

// WithCORS wraps router with a permissive CORS policy covering every
// route, including /healthz.
func WithCORS(router *mux.Router) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Range"},
	}).Handler(router)
}
