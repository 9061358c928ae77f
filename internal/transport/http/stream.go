package http

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// streamFile serves fullPath with Range support: 206 + Content-Range on
// a byte range request, 200 with the whole body otherwise.
func streamFile(w http.ResponseWriter, r *http.Request, fullPath, contentType string) {
	file, err := os.Open(fullPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	fileSize := info.Size()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, file)
		return
	}

	var start, end int64
	if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err != nil {
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
		return
	}

	end = fileSize - 1
	if strings.Contains(rangeHeader, "-") {
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		if len(parts) == 2 && parts[1] != "" {
			_, _ = fmt.Sscanf(parts[1], "%d", &end)
		}
	}

	if start < 0 || start >= fileSize {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
		return
	}
	if end >= fileSize {
		end = fileSize - 1
	}
	if start > end {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
		return
	}

	contentLength := end - start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = file.Seek(start, 0)
	_, _ = io.CopyN(w, file, contentLength)
}
