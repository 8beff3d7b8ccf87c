package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mapworks/mapscan/internal/config"
	"github.com/mapworks/mapscan/internal/detect"
	"github.com/mapworks/mapscan/internal/imaging"
	"github.com/mapworks/mapscan/internal/ocr"
	"github.com/mapworks/mapscan/internal/pipeline"
	"github.com/mapworks/mapscan/internal/server"
	"github.com/mapworks/mapscan/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("mapscan %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("mapscan - map image analysis service")
			fmt.Println()
			fmt.Println("Usage: mapscan [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  MAPSCAN_ADDR           Listen address (default :8080)")
			fmt.Println("  MAPSCAN_WORKERS        Analysis worker count (default 4)")
			fmt.Println("  MAPSCAN_SEGMENT_DIR    Segment storage directory (default ./segments)")
			fmt.Println("  MAPSCAN_DETECTOR       Detector backend: heuristic or onnx")
			fmt.Println("  MAPSCAN_MODEL          ONNX model path (onnx backend only)")
			fmt.Println("  MAPSCAN_OCR_LANG       Tesseract language (default eng)")
			return
		}
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg := config.Load()

	backend, err := newDetectorBackend(cfg)
	if err != nil {
		log.Fatalf("Detector setup error: %v", err)
	}
	detector := detect.NewAdapter(backend, cfg.MinDetectConfidence, cfg.AdapterTimeout)
	recognizer := ocr.NewAdapter(ocr.NewTesseract(cfg.OCRLanguage), cfg.AdapterTimeout)

	blobs, err := store.NewDir(cfg.SegmentDir)
	if err != nil {
		log.Fatalf("Blob store error: %v", err)
	}

	pipe := pipeline.New(detector, recognizer, imaging.NewSegmenter(blobs, cfg.SegmentMargin),
		pipeline.NewMemoryJobStore(), blobs, pipeline.Options{
			Workers:          cfg.Workers,
			QueueSize:        cfg.QueueSize,
			MinOCRConfidence: cfg.MinOCRConfidence,
			ClusterGap:       cfg.ClusterGap,
			Retries:          cfg.Retries,
			RetryDelay:       cfg.RetryDelay,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe.Start(ctx)

	srv := &http.Server{
		Handler:      server.New(pipe),
		Addr:         cfg.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("mapscan %s listening on %s", Version, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	pipe.Stop()
}

// newDetectorBackend picks the configured detection backend. The heuristic
// backend needs no external files; onnx requires a model path and the
// onnxruntime shared library.
func newDetectorBackend(cfg *config.Config) (detect.Detector, error) {
	switch cfg.Detector {
	case "heuristic", "":
		return detect.NewHeuristic(), nil
	case "onnx":
		if cfg.Model == "" {
			return nil, fmt.Errorf("onnx detector needs MAPSCAN_MODEL")
		}
		return detect.NewONNX(cfg.Model, cfg.OnnxLib, detect.CartographicClasses())
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Detector)
	}
}
