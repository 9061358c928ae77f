package main

import (
	"context"
	"mime"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"videoserver/internal/app"
	"videoserver/internal/cleanup"
	"videoserver/internal/config"
	"videoserver/internal/jobs"
	"videoserver/internal/logging"
	"videoserver/internal/rendition"
	"videoserver/internal/storage"
	"videoserver/internal/transcode"
	"videoserver/internal/transcode/probe"
	httptransport "videoserver/internal/transport/http"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogFilter)

	_ = mime.AddExtensionType(".m3u8", "application/vnd.apple.mpegurl")
	_ = mime.AddExtensionType(".ts", "video/mp2t")
	_ = mime.AddExtensionType(".mpd", "application/dash+xml")
	_ = mime.AddExtensionType(".m4s", "video/iso.segment")

	layout := storage.New(cfg.StorageRoot)
	if err := layout.EnsureDirs(); err != nil {
		log.WithError(err).Fatal("storage init failed")
	}

	defaultOverride, _ := probe.ParseOverride(cfg.EncoderOverride)
	prober := probe.New(cfg.EncoderBinary, cfg.VAAPIDevice)
	planner := transcode.New(prober, cfg.EncoderBinary, cfg.ProbeBinary, cfg.VAAPIDevice, defaultOverride, log)

	renditions := rendition.New(cfg.EncoderBinary)
	registry := jobs.New(log)
	service := app.New(registry, layout, planner, renditions, log, cfg.DownloaderBinary, cfg.ExtractorBinary)

	janitor := cleanup.New(cleanup.Config{
		MinFreeBytes: cfg.MinFreeBytes,
		MinFreeRatio: cfg.MinFreeRatio,
		BatchSize:    cfg.CleanupBatch,
		Interval:     time.Duration(cfg.CleanupInterval) * time.Second,
	}, layout, registry, log, nil)
	go janitor.Run(context.Background())

	handler := httptransport.NewHandler(service)
	router := httptransport.NewRouter(handler)

	log.WithFields(logrus.Fields{"addr": cfg.BindAddr}).Info("server started")
	log.Fatal(http.ListenAndServe(cfg.BindAddr, httptransport.WithCORS(router)))
}
