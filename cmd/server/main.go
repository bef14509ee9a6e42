package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/database"
	"github.com/crowdreach/automation/internal/engine"
	"github.com/crowdreach/automation/internal/handlers"
	"github.com/crowdreach/automation/internal/mailer"
)

func main() {
	cfg := config.Load()
	database.ConnectDatabase(cfg)
	db := database.GetDB()

	registry := engine.NewRegistry(db, cfg)
	executor := engine.NewExecutor(db, registry)
	dispatcher := engine.NewDispatcher(db, executor)

	provider := mailer.NewSMTPProvider(cfg)
	processor := mailer.NewProcessor(db, cfg, provider)

	// Background jobs: drain the delivery queue and resume waiting
	// executions whose delay has elapsed. Each tick is one stateless run.
	c := cron.New()
	if _, err := c.AddFunc(cfg.QueueCronSpec, func() {
		if _, err := processor.ProcessDue(); err != nil {
			log.Printf("Scheduled queue run failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid queue cron spec %q: %v", cfg.QueueCronSpec, err)
	}
	if _, err := c.AddFunc(cfg.ResumeCronSpec, func() {
		if _, err := executor.ResumeDue(); err != nil {
			log.Printf("Scheduled resume run failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid resume cron spec %q: %v", cfg.ResumeCronSpec, err)
	}
	c.Start()
	defer c.Stop()

	router := gin.Default()
	h := handlers.NewAutomationHandlers(cfg, dispatcher, processor)
	handlers.RegisterRoutes(router, h)

	log.Printf("Automation service listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
