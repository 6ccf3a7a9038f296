package main

import (
	"context"
	"flag"
	"log"
	"time"

	"reservo_app_echo/internal/config"
	"reservo_app_echo/internal/models"
	"reservo_app_echo/internal/services"
)

func main() {
	receiptID := flag.Uint("receipt_id", 0, "ID of the receipt to send (mandatory)")
	channel := flag.String("channel", "email", "Delivery channel: email or whatsapp")
	flag.Parse()

	if *receiptID == 0 {
		log.Fatal("Please provide a receipt using -receipt_id flag")
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := services.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	db, err := services.InitDB(cfg.DatabaseURL, cfg.DBLogLevel, logger)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	delivery := services.NewReceiptDeliveryService(
		services.NewGormReceiptRepository(db),
		services.NewEmailService(cfg.SMTP),
		services.NewWahaService(cfg.Waha),
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("Sending receipt %d via %s", *receiptID, *channel)
	if err := delivery.Deliver(ctx, uint(*receiptID), models.DeliveryChannel(*channel)); err != nil {
		log.Fatalf("Failed to send receipt: %v", err)
	}

	log.Println("Receipt sent successfully!")
}
