package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/dmarkhas/cinema-booking-saga/internal/config"
	"github.com/dmarkhas/cinema-booking-saga/internal/database"
	"github.com/dmarkhas/cinema-booking-saga/internal/handler"
	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
	"github.com/dmarkhas/cinema-booking-saga/internal/repository"
	"github.com/dmarkhas/cinema-booking-saga/internal/router"
	"github.com/dmarkhas/cinema-booking-saga/internal/scheduler"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

func main() {
	cfg := config.Load()
	defer logger.Sync()
	log := logger.L()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalw("database open failed", "err", err)
	}
	defer db.Close()

	pub, err := queue.NewAMQPPublisher(cfg.AMQPURL)
	if err != nil {
		log.Fatalw("broker connect failed", "err", err)
	}
	defer pub.Close()

	// Redis is optional: a nil client turns the rate limiter off.
	rdb := config.NewRedisClient()
	rlCfg := config.LoadRateLimitConfig()

	bookingRepo := repository.NewBookingRepo(db)
	placeRepo := repository.NewPlaceRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	movieRepo := repository.NewMovieRepo(db)
	jobRepo := repository.NewJobRepo(db)

	bookingSvc := service.NewBookingService(bookingRepo, placeRepo, sessionRepo, movieRepo, pub)
	sessionSvc := service.NewSessionService(sessionRepo, placeRepo, placeRepo, movieRepo, pub, cfg.BookingLeadMin)

	engine := scheduler.New(jobRepo, pub, cfg.SchedulerInterval)
	tasks := scheduler.NewTaskHandlers(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tasks.RegisterMaintenance(ctx, cfg.InactivePurgeCron); err != nil {
		log.Fatalw("register maintenance job failed", "err", err)
	}
	go engine.Run(ctx)

	consumer := queue.NewConsumer(cfg.AMQPURL)
	tasks.Register(consumer)
	service.RegisterConsumers(consumer, bookingSvc, sessionSvc)
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("consumer stopped", "err", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	router.Register(e, db,
		handler.NewBookingHandler(bookingSvc),
		handler.NewSessionHandler(sessionSvc),
		cfg.JWTSecret, rlCfg, rdb)

	go func() {
		addr := ":" + cfg.Port
		log.Infow("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "err", err)
	}
}
