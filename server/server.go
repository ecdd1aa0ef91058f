package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EchoFM/config"
	"EchoFM/core/ingest"
	"EchoFM/core/media"
	"EchoFM/core/pipeline"
	"EchoFM/db"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
	"EchoFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(os.Getenv("LOG_LEVEL")),
		OutputPath: os.Getenv("LOG_FILE"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect GORM database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.Artist{}, &model.TrackArtist{}, &model.Genre{}); err != nil {
		logger.Fatal("Failed to migrate models", logger.ErrorField(err))
	}

	// Redis不可用时降级为无缓存运行
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis连接失败，缓存停用", logger.ErrorField(err))
	} else {
		defer db.CloseRedis()
	}

	// Create necessary directories if they don't exist
	ensureDirExists(cfg.RawDir)
	ensureDirExists(cfg.HLSDir)
	ensureDirExists(cfg.TempDir)

	trackRepo := repository.NewMySQLTrackRepository()
	artistRepo := repository.NewGormArtistRepository()

	ytdlp := media.NewYtdlpClient(cfg.YtdlpPath)
	encoder := media.NewFFmpegEncoder(cfg.FFmpegPath, cfg.FFprobePath, media.HLSProfile{
		Bitrates:        cfg.Bitrates,
		SegmentDuration: cfg.SegmentDuration,
		PlaylistType:    cfg.PlaylistType,
	})

	hub := pipeline.NewEventHub()

	var archiver pipeline.Archiver
	if cfg.MinioEnabled {
		a, err := storage.NewMinioArchiver(cfg)
		if err != nil {
			logger.Warn("MinIO归档不可用", logger.ErrorField(err))
		} else {
			archiver = a
		}
	}

	engine := pipeline.NewEngine(trackRepo, ytdlp, encoder, cfg, hub, archiver)
	queue := pipeline.NewQueue(engine)
	ingestSvc := ingest.NewService(trackRepo, artistRepo, ytdlp, queue)
	reclaimer := pipeline.NewReclaimer(trackRepo, cfg.HLSDir, hub)

	// 后台存储清理循环
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	if cfg.ReclaimInterval > 0 {
		go reclaimer.Run(janitorCtx, time.Duration(cfg.ReclaimInterval)*time.Minute, cfg.MaxStorageGB)
	}

	apiHandler := NewAPIHandler(ingestSvc, trackRepo, artistRepo, reclaimer, cfg)
	wsHandler := NewStatusSocketHandler(hub)
	hlsHandler := NewStaticHLSHandler(cfg)

	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// API Endpoints
	router.HandleFunc("/api/ingest", apiHandler.IngestHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", apiHandler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/status", apiHandler.TrackStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/storage/reclaim", apiHandler.ReclaimHandler).Methods(http.MethodPost)

	// 状态推送与HLS静态文件
	router.Handle("/ws/status", wsHandler)
	router.PathPrefix("/hls/").Handler(hlsHandler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("EchoFM server listening", logger.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	// 队列里已入队的任务（在途转码）等待收尾，产物缺口由幂等短路在下次补齐
	waitDone := make(chan struct{})
	go func() {
		queue.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(60 * time.Second):
		logger.Warn("等待队列排空超时，强制退出")
	}

	logger.Info("Server exited")
}

func ensureDirExists(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Fatal("Failed to create directory",
			logger.String("dir", dir),
			logger.ErrorField(err))
	}
}
