package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"videoserver/internal/app"
	"videoserver/internal/jobs"
	"videoserver/internal/rendition"
	"videoserver/internal/storage"
	"videoserver/internal/transcode"
	"videoserver/internal/transcode/probe"
)

// fakeEncoderScript stands in for ffmpeg, mirroring the injectable-fake-
// binary pattern used by the planner and app test suites.
func fakeEncoderScript(t *testing.T, dir string) string {
	path := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\neval out=\\${$#}\necho fakemezzanine > \"$out\"\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServer(t *testing.T) *httptest.Server {
	dir := t.TempDir()
	layout := storage.New(filepath.Join(dir, "storage"))
	layout.TmpRoot = filepath.Join(dir, "tmp")
	layout.IncomingDir = filepath.Join(layout.TmpRoot, "incoming")
	layout.HLSDir = filepath.Join(layout.TmpRoot, "hls")
	layout.DASHDir = filepath.Join(layout.TmpRoot, "dash")
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	log := discardLogger()
	encoderBinary := fakeEncoderScript(t, dir)
	prober := probe.New(encoderBinary, "")
	planner := transcode.New(prober, encoderBinary, "/bin/false", "", probe.Software, log)
	renditions := rendition.New(encoderBinary)
	registry := jobs.New(log)

	svc := app.New(registry, layout, planner, renditions, log, "aria2c", "yt-dlp")
	handler := NewHandler(svc)
	server := httptest.NewServer(WithCORS(NewRouter(handler)))
	t.Cleanup(server.Close)
	return server
}

func multipartUploadBody(t *testing.T, field string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "source.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("source bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

// TestUploadMultipart_RunsJobToCompletionThroughTheRealRouter drives the
// upload through the actual HTTP handler and router rather than calling
// app.Service directly. It exists as the regression test for the job
// context bug: a 202 response used to cancel the job's context the moment
// ServeHTTP returned, so the background transcode never ran.
func TestUploadMultipart_RunsJobToCompletionThroughTheRealRouter(t *testing.T) {
	server := newTestServer(t)

	body, contentType := multipartUploadBody(t, "file")
	resp, err := http.Post(server.URL+"/upload/multipart?encoder=software", contentType, body)
	if err != nil {
		t.Fatalf("POST /upload/multipart: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var uploaded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if uploaded.ID == "" {
		t.Fatalf("expected a job id in the upload response")
	}

	deadline := time.Now().Add(5 * time.Second)
	var snap jobSnapshotDTO
	for time.Now().Before(deadline) {
		statusResp, err := http.Get(server.URL + "/jobs/" + uploaded.ID)
		if err != nil {
			t.Fatalf("GET /jobs/%s: %v", uploaded.ID, err)
		}
		if err := json.NewDecoder(statusResp.Body).Decode(&snap); err != nil {
			statusResp.Body.Close()
			t.Fatalf("decode job snapshot: %v", err)
		}
		statusResp.Body.Close()
		if snap.Stage == string(jobs.StageComplete) || snap.Stage == string(jobs.StageFailed) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if snap.Stage != string(jobs.StageComplete) {
		errMsg := ""
		if snap.Error != nil {
			errMsg = *snap.Error
		}
		t.Fatalf("expected job to reach complete, got stage=%s error=%q", snap.Stage, errMsg)
	}

	downloadResp, err := http.Get(server.URL + "/videos/" + uploaded.ID + "/download")
	if err != nil {
		t.Fatalf("GET download: %v", err)
	}
	defer downloadResp.Body.Close()
	if downloadResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 downloading the published mezzanine, got %d", downloadResp.StatusCode)
	}
}

// TestUploadRemote_RejectsOutOfRangeCRFWithBareMessage covers the
// synchronous-error-body shape: a validation failure should render as
// {"error":"<message>"} with no snake_case kind prefix, unlike a job
// snapshot's error field.
func TestUploadRemote_RejectsOutOfRangeCRFWithBareMessage(t *testing.T) {
	server := newTestServer(t)

	reqBody := bytes.NewBufferString(`{"url":"http://example.invalid/video.mp4","transcode":{"crf":99}}`)
	resp, err := http.Post(server.URL+"/upload/remote", "application/json", reqBody)
	if err != nil {
		t.Fatalf("POST /upload/remote: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != "crf out of range" {
		t.Fatalf(`expected {"error":"crf out of range"}, got %q`, payload["error"])
	}
}
