package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/threadflow/configs"
	"github.com/maheshrc27/threadflow/internal/api/handlers"
	"github.com/maheshrc27/threadflow/internal/api/middleware"
	"github.com/maheshrc27/threadflow/internal/backoff"
	"github.com/maheshrc27/threadflow/internal/clock"
	job "github.com/maheshrc27/threadflow/internal/jobs"
	"github.com/maheshrc27/threadflow/internal/queue"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/maheshrc27/threadflow/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load environment file")
	}

	cfg := config.LoadConfig()
	ctx := context.Background()
	clk := clock.Real{}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("database is unreachable")
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	cipher, err := utils.NewTokenCipher(cfg.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid secret key")
	}

	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)
	videoJobRepo := repository.NewVideoJobRepository(db)
	activeAccounts := repository.NewActiveAccountStore(rdb)

	r2Service, err := service.NewR2Service(ctx, cfg.R2)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure object store")
	}
	detector, err := service.NewPlatformDetector()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load platform table")
	}

	dispatcher, registrar, startWorkers, stopWorkers := newDispatcher(cfg, clk)

	xClients := service.NewXClientFactory(service.XConfig{
		ClientID:      cfg.X.ClientID,
		ClientSecret:  cfg.X.ClientSecret,
		APIBaseURL:    cfg.X.APIBaseURL,
		RatePerMinute: cfg.X.RatePerMinute,
	}, socialAccountRepo, cipher, clk, nil)
	extractor := service.NewExtractorService(service.ExtractorConfig{
		BaseURL:      cfg.Extractor.BaseURL,
		Token:        cfg.Extractor.Token,
		DefaultActor: cfg.Extractor.Actor,
	}, nil, clk, backoff.ExtractionPolicy())
	transcoder := service.NewTranscoder(cfg.FFmpegPath, cfg.FFprobePath)

	accountService := service.NewAccountService(socialAccountRepo, activeAccounts)
	settingsService := service.NewSettingsService(settingsRepo)
	slotService := service.NewSlotService(settingsService, postRepo, slots.New(cfg.SlotMaxDays), clk)
	threadService := service.NewThreadService(postRepo, historyRepo, accountService, slotService, dispatcher, clk)
	publishService := service.NewPublishService(postRepo, historyRepo, xClients, clk)
	videoService := service.NewVideoService(videoJobRepo, postRepo, accountService, detector, extractor,
		transcoder, r2Service, xClients, dispatcher, threadService, clk, nil)

	worker := job.NewWorker(publishService, videoService)
	worker.Register(registrar)
	startWorkers()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	threads := handlers.NewThreadHandler(threadService)
	api.Get("/threads", threads.ListThreads)
	api.Post("/threads", threads.CreateThread)
	api.Post("/threads/queue", threads.BulkQueue)
	api.Get("/threads/:id", threads.GetThread)
	api.Put("/threads/:id", threads.UpdateThread)
	api.Delete("/threads/:id", threads.DeleteThread)
	api.Post("/threads/:id/queue", threads.QueueThread)
	api.Post("/threads/:id/publish", threads.PublishNow)

	videos := handlers.NewVideoHandler(videoService)
	api.Post("/videos", videos.SubmitVideo)
	api.Get("/videos/:id", videos.VideoStatus)

	settings := handlers.NewSettingsHandler(settingsService, slotService, accountService)
	api.Get("/settings", settings.GetSettings)
	api.Put("/settings", settings.UpdateSettings)
	api.Get("/slots/next", settings.NextSlot)

	// social accounts api routes
	accounts := handlers.NewAccountHandler(accountService)
	api.Get("/accounts", accounts.ListSocialAccounts)
	api.Post("/accounts/active", accounts.SetActiveAccount)
	api.Post("/accounts/remove", accounts.DeleteSocialAccount)

	// cron jobs
	reconcileJob := job.NewScheduleReconcileJob(postRepo, historyRepo, dispatcher, clk,
		cfg.ReconcileGrace, cfg.Dispatch.JobTimeout+cfg.ReconcileGrace)

	c := cron.New()
	if err := c.AddFunc(job.ReconcileSpec, reconcileJob.Reconcile); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule reconcile job")
	}
	c.Start()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Str("port", cfg.Port).Str("dispatch", cfg.Dispatch.Mode).Msg("server is running")

	gracefulShutdown(app, db, func() {
		c.Stop()
		stopWorkers()
	})
}

// newDispatcher wires the job backend. Handlers must be registered before
// start is called.
func newDispatcher(cfg *config.Config, clk clock.Clock) (d queue.Dispatcher, r queue.Registrar, start, stop func()) {
	if cfg.Dispatch.Mode == config.DispatchModeLocal {
		local := queue.NewLocalDispatcher(clk, queue.LocalOptions{
			Delay:         cfg.Dispatch.LocalDelay,
			HonorSchedule: cfg.Dispatch.HonorSchedule,
			JobTimeout:    cfg.Dispatch.JobTimeout,
		})
		return local, local, func() {}, local.Shutdown
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	inspector := asynq.NewInspector(redisConn)
	registrar := queue.NewAsynqRegistrar()

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		Queues:      map[string]int{queue.DefaultQueue: 1},
	})

	start = func() {
		log.Info().Msg("starting the asynq server")
		if err := server.Start(registrar); err != nil {
			log.Fatal().Err(err).Msg("could not start asynq server")
		}
	}
	stop = func() {
		server.Shutdown()
		inspector.Close()
		client.Close()
	}
	return queue.NewAsynqDispatcher(client, inspector, cfg.Dispatch.JobTimeout), registrar, start, stop
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, stopBackground func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("shutting down server")

	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("failed to shut down server")
	}
	stopBackground()

	closeDB(db)
	log.Info().Msg("server shutdown complete")
}
