package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"partner_portal/internal/access"
	"partner_portal/internal/chat"
	"partner_portal/internal/config"
	"partner_portal/internal/db"
	httpserver "partner_portal/internal/http"
	"partner_portal/internal/journals"
	"partner_portal/internal/models"
	"partner_portal/internal/notify"
	"partner_portal/internal/realtime"
	"partner_portal/internal/seed"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer logger.Sync()

	gdb := db.Connect(cfg.DSN)
	db.AutoMigrate(gdb,
		&models.User{},
		&models.StaffRecord{},
		&models.Position{},
		&models.StaffGroup{},
		&models.Tool{},
		&models.UserToolAccess{},
		&models.PositionToolAccess{},
		&models.GroupToolAccess{},
		&models.Branch{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.ChatMessageAttachment{},
		&models.Notification{},
	)

	if err := seed.FirstSetup(gdb); err != nil {
		log.Fatalf("❌ Seed failed: %v", err)
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	jc := journals.NewClient(cfg.JournalsAPIURL, cfg.JournalsTimeout, logger)
	acc := access.NewResolver(gdb, jc, logger)
	nt := &notify.Service{DB: gdb, Hub: hub, Log: logger}
	svc := chat.NewService(gdb, acc, jc, nt, hub, logger)

	r := httpserver.NewRouter(gdb, cfg.JWTSecret, acc, svc, jc, hub, logger)
	log.Printf("🚀 Server listening on :%s\n", cfg.AppPort)
	r.Run(fmt.Sprintf(":%s", cfg.AppPort))
}
