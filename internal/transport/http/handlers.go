// Package http is the external-interfaces layer: thin gorilla/mux
// handlers translating HTTP requests into app.Service calls and job
// snapshots into wire shapes. No pipeline logic lives here.
package http

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"videoserver/internal/app"
	"videoserver/internal/apperr"
	"videoserver/internal/jobs"
	"videoserver/internal/rendition"
	"videoserver/internal/transcode"
	"videoserver/internal/transcode/probe"
)

func probeOverride(value string) (probe.Encoder, bool) {
	return probe.ParseOverride(value)
}

// Handler holds the one collaborator every route needs: the orchestration
// service. Delivery routes also reach into its Layout()/Renditions() for
// filesystem paths and lazy generation.
type Handler struct {
	service *app.Service
}

// NewHandler wires HTTP handlers to the orchestration service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// transcodeOverride is the wire shape of the optional "transcode" field on
// the remote/extractor ingest endpoints.
type transcodeOverride struct {
	CRF     *int   `json:"crf"`
	CPUUsed *int   `json:"cpu_used"`
	Encoder string `json:"encoder"`
}

func (o *transcodeOverride) toRequest() (transcode.Request, error) {
	req := transcode.Request{}
	if o == nil {
		return req, nil
	}
	req.CRF = o.CRF
	req.CPUUsed = o.CPUUsed
	if o.Encoder != "" {
		enc, ok := probeOverride(o.Encoder)
		if !ok {
			return req, apperr.New(apperr.KindBadRequest, "unknown encoder override")
		}
		req.Encoder = enc
	}
	return req, nil
}

type uploadRequestBody struct {
	URL       string             `json:"url"`
	Transcode *transcodeOverride `json:"transcode"`
}

type uploadResponse struct {
	ID              string `json:"id"`
	StatusURL       string `json:"status_url"`
	DownloadURL     string `json:"download_url"`
	HLSMasterURL    string `json:"hls_master_url"`
	DASHManifestURL string `json:"dash_manifest_url"`
}

func newUploadResponse(id uuid.UUID) uploadResponse {
	base := "/videos/" + id.String()
	return uploadResponse{
		ID:              id.String(),
		StatusURL:       "/jobs/" + id.String(),
		DownloadURL:     base + "/download",
		HLSMasterURL:    base + "/hls/" + string(rendition.HLS.ManifestName()),
		DASHManifestURL: base + "/dash/" + string(rendition.DASH.ManifestName()),
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// UploadMultipart handles POST /upload/multipart: the first file part of a
// multipart/form-data body is streamed straight to a staging file.
func (h *Handler) UploadMultipart(w http.ResponseWriter, r *http.Request) {
	req, err := requestOverrideFromQuery(r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	part, err := reader.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	contentLength := r.ContentLength
	id, err := h.service.StartMultipart(r.Context(), part, contentLength, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newUploadResponse(id))
}

// UploadRemote handles POST /upload/remote: {"url": "...", "transcode": {...}}.
func (h *Handler) UploadRemote(w http.ResponseWriter, r *http.Request) {
	var body uploadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := body.Transcode.toRequest()
	if err != nil {
		writeAppError(w, err)
		return
	}

	id, err := h.service.StartRemote(r.Context(), body.URL, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newUploadResponse(id))
}

// DownloadExtractor handles POST /download/yt-dlp: {"url": "...", "transcode": {...}}.
func (h *Handler) DownloadExtractor(w http.ResponseWriter, r *http.Request) {
	var body uploadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := body.Transcode.toRequest()
	if err != nil {
		writeAppError(w, err)
		return
	}

	id, err := h.service.StartExtractor(r.Context(), body.URL, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newUploadResponse(id))
}

type jobSnapshotDTO struct {
	ID                       string  `json:"id"`
	Stage                    string  `json:"stage"`
	Progress                 float64 `json:"progress"`
	StageProgress            float64 `json:"stage_progress"`
	CurrentStageIndex        *int    `json:"current_stage_index"`
	TotalStages              int     `json:"total_stages"`
	ElapsedSeconds           float64 `json:"elapsed_seconds"`
	EstimatedRemainingSecond *float64 `json:"estimated_remaining_seconds"`
	Error                    *string `json:"error"`
	StartedAtUnixMs          int64   `json:"started_at_unix_ms"`
	LastUpdateUnixMs         int64   `json:"last_update_unix_ms"`
}

func newJobSnapshotDTO(s jobs.Snapshot) jobSnapshotDTO {
	dto := jobSnapshotDTO{
		ID:                       s.ID.String(),
		Stage:                    string(s.Stage),
		Progress:                 s.OverallProgress,
		StageProgress:            s.StageProgress,
		CurrentStageIndex:        s.CurrentStageIndex,
		TotalStages:              s.TotalStages,
		ElapsedSeconds:           s.ElapsedSeconds,
		EstimatedRemainingSecond: s.ETASeconds,
		StartedAtUnixMs:          s.StartedAtUnixMs,
		LastUpdateUnixMs:         s.LastUpdateUnixMs,
	}
	if s.Error != nil {
		msg := apperr.WireToken(apperr.Kind(s.Error.Kind)) + ": " + s.Error.Message
		dto.Error = &msg
	}
	return dto
}

// JobSnapshot handles GET /jobs/{id}.
func (h *Handler) JobSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	snap, ok := h.service.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	writeJSON(w, http.StatusOK, newJobSnapshotDTO(snap))
}

// DownloadMezzanine handles GET /videos/{id}/download and GET /videos/{id}.
func (h *Handler) DownloadMezzanine(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	snap, ok := h.service.Registry().Get(id)
	if !ok || snap.Stage != jobs.StageComplete {
		writeError(w, http.StatusNotFound, "video not ready")
		return
	}

	fullPath := h.service.Layout().DownloadPath(id, "webm")
	streamFile(w, r, fullPath, "video/webm")
}

// HLSAsset handles GET /videos/{id}/hls/{asset:.*}.
func (h *Handler) HLSAsset(w http.ResponseWriter, r *http.Request) {
	h.renditionAsset(w, r, rendition.HLS)
}

// DASHAsset handles GET /videos/{id}/dash/{asset:.*}.
func (h *Handler) DASHAsset(w http.ResponseWriter, r *http.Request) {
	h.renditionAsset(w, r, rendition.DASH)
}

func (h *Handler) renditionAsset(w http.ResponseWriter, r *http.Request, format rendition.Format) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	snap, ok := h.service.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}
	if snap.Stage != jobs.StageComplete {
		writeError(w, http.StatusNotFound, "video not ready")
		return
	}

	asset := normalizeAssetPath(mux.Vars(r)["asset"])
	if asset == "" {
		asset = format.ManifestName()
	}

	var destDir string
	if format == rendition.HLS {
		destDir = h.service.Layout().HLSDirFor(id)
	} else {
		destDir = h.service.Layout().DASHDirFor(id)
	}

	mezzaninePath := h.service.Layout().DownloadPath(id, "webm")
	if err := h.service.Renditions().EnsureReady(r.Context(), format, id, mezzaninePath, destDir); err != nil {
		writeAppError(w, err)
		return
	}

	fullPath := path.Join(destDir, asset)
	contentType := mime.TypeByExtension(path.Ext(fullPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	streamFile(w, r, fullPath, contentType)
}

// normalizeAssetPath collapses ".." segments and leading slashes so an
// asset path can never escape its rendition directory. Unlike a fixed
// video-extension allowlist, this accepts any rendition filename —
// manifests, segments, init fragments.
func normalizeAssetPath(raw string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ""
	}
	return cleaned
}

func requestOverrideFromQuery(r *http.Request) (transcode.Request, error) {
	req := transcode.Request{}
	q := r.URL.Query()

	if v := q.Get("crf"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, apperr.New(apperr.KindBadRequest, "invalid crf")
		}
		req.CRF = &n
	}
	if v := q.Get("cpu_used"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, apperr.New(apperr.KindBadRequest, "invalid cpu_used")
		}
		req.CPUUsed = &n
	}
	if v := q.Get("encoder"); v != "" {
		enc, ok := probeOverride(v)
		if !ok {
			return req, apperr.New(apperr.KindBadRequest, "unknown encoder override")
		}
		req.Encoder = enc
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperr.StatusOf(err), apperr.MessageOf(err))
}
