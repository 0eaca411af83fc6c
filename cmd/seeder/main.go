package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/quocanhngo/clipsync/internal/config"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/quocanhngo/clipsync/migrations"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var demoDevices = []struct {
	suffix string
	label  string
	osInfo string
}{
	{"laptop", "Laptop", "macOS 15"},
	{"phone", "Phone", "Android 15"},
}

func main() {
	users := flag.Int("users", 5, "number of demo users to create")
	rollback := flag.Bool("rollback", false, "revert the last migration and exit")
	flag.Parse()

	// Load config
	cfg := config.Load()

	if *rollback {
		if err := migrations.Rollback(cfg.DB.URL()); err != nil {
			log.Fatalf("❌ %v", err)
		}
		return
	}

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Fatalf("❌ %v", err)
	}

	// Common password for all users
	password := "password123"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ Failed to hash password: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)

	log.Printf("🌱 Seeding %d users...", *users)
	for i := 1; i <= *users; i++ {
		username := fmt.Sprintf("user%d", i)

		user, err := userRepo.FindByUsername(username)
		if err != nil && !repository.IsNotFound(err) {
			log.Printf("❌ Failed to look up %s: %v", username, err)
			continue
		}
		if user == nil {
			user = &model.User{
				Username:     username,
				PasswordHash: string(hashedPassword),
				IsActive:     true,
			}
			if err := userRepo.Create(user); err != nil {
				log.Printf("❌ Failed to create user %s: %v", username, err)
				continue
			}
			log.Printf("✅ Created user: %s | Pass: %s", username, password)
		}

		seedDevices(deviceRepo, user)
	}

	// Keep one disabled account around for trying the 403 path
	if *users >= 2 {
		if last, err := userRepo.FindByUsername(fmt.Sprintf("user%d", *users)); err == nil {
			if err := userRepo.SetActive(last.ID, false); err == nil {
				log.Printf("🚫 Disabled user: %s", last.Username)
			}
		}
	}

	log.Println("🎉 Seeding completed!")
}

func seedDevices(repo *repository.DeviceRepository, user *model.User) {
	for _, d := range demoDevices {
		id := user.Username + "-" + d.suffix
		if _, err := repo.FindByID(id); err == nil {
			continue
		}
		device := &model.Device{
			ID:       id,
			UserID:   user.ID,
			Label:    d.label,
			OSInfo:   d.osInfo,
			LastSeen: time.Now().UTC(),
		}
		if err := repo.Upsert(device); err != nil {
			log.Printf("❌ Failed to create device %s: %v", id, err)
			continue
		}
		log.Printf("📱 Created device: %s (%s)", id, d.label)
	}
}
