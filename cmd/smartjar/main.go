package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartjar/internal/api"
	"smartjar/internal/bot"
	"smartjar/internal/config"
	"smartjar/internal/notify"
	"smartjar/internal/reminder"
	"smartjar/internal/repository"
	"smartjar/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}

	apiClient := api.NewClient(cfg.BackendURL)
	sessionRepo := repository.NewSessionRepository(db, cfg.SessionSecret)

	coordinator := reminder.NewCoordinator(func(chatID int64) notify.Facility {
		return notify.NewTelegramFacility(botAPI, chatID)
	})

	sessionSvc := service.NewSessionService(apiClient, sessionRepo, coordinator)
	courseSvc := service.NewCourseService(apiClient, sessionSvc)
	spcSvc := service.NewSpcService(apiClient, sessionSvc)
	accountSvc := service.NewAccountService(apiClient, sessionSvc)
	summarySvc := service.NewSummaryService()

	telegramBot := bot.New(botAPI, sessionSvc, courseSvc, spcSvc, accountSvc, summarySvc)

	resumeCtx, cancelResume := context.WithTimeout(ctx, time.Minute)
	sessionSvc.ResumeAll(resumeCtx)
	cancelResume()

	scheduler := service.NewSchedulerService(time.Local)
	if _, err := scheduler.ScheduleInterval(cfg.ResyncInterval, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		sessionSvc.ResumeAll(jobCtx)
	}); err != nil {
		log.Fatalf("schedule resync: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Println("Smart jar bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
