// Command seed populates the database with development data: couples,
// vendors, threads and message history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/config"
	"github.com/NahoooMac/wedhabesha-sub005/internal/database"
	"github.com/NahoooMac/wedhabesha-sub005/internal/messaging"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var vendorCategories = []string{
	"Photography", "Catering", "Florist", "Venue", "Decor", "Music", "Makeup",
}

func main() {
	numCouples := flag.Int("couples", 10, "Number of couple accounts to create")
	numVendors := flag.Int("vendors", 15, "Number of vendor accounts to create")
	shouldClean := flag.Bool("clean", true, "Clean messaging tables before seeding")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	flag.Parse()

	if *seed != 0 {
		gofakeit.Seed(*seed)
	}

	log.Println("Messaging seeder")
	log.Printf("Target: %d couples, %d vendors, clean=%v", *numCouples, *numVendors, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *shouldClean {
		if err := clean(db); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	ctx := context.Background()
	couples, vendors, err := seedUsers(ctx, db, *numCouples, *numVendors)
	if err != nil {
		log.Fatalf("User seeding failed: %v", err)
	}

	threads, messages, err := seedConversations(ctx, db, couples, vendors)
	if err != nil {
		log.Fatalf("Conversation seeding failed: %v", err)
	}

	log.Printf("Done: %d users, %d threads, %d messages",
		len(couples)+len(vendors), threads, messages)
}

func clean(db *gorm.DB) error {
	for _, model := range []any{
		&models.Attachment{}, &models.Message{}, &models.Thread{}, &models.User{},
	} {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedUsers(ctx context.Context, db *gorm.DB, numCouples, numVendors int) ([]*models.User, []*models.User, error) {
	users := repository.NewUserRepository(db)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	couples := make([]*models.User, 0, numCouples)
	for i := 0; i < numCouples; i++ {
		u := &models.User{
			Name:         fmt.Sprintf("%s & %s", gofakeit.FirstName(), gofakeit.FirstName()),
			Email:        gofakeit.Email(),
			PasswordHash: string(hash),
			Role:         models.RoleCouple,
			Phone:        gofakeit.Phone(),
		}
		if err := users.Create(ctx, u); err != nil {
			return nil, nil, err
		}
		couples = append(couples, u)
	}

	vendors := make([]*models.User, 0, numVendors)
	for i := 0; i < numVendors; i++ {
		category := vendorCategories[rand.Intn(len(vendorCategories))]
		u := &models.User{
			Name:         fmt.Sprintf("%s %s", gofakeit.LastName(), category),
			Email:        gofakeit.Email(),
			PasswordHash: string(hash),
			Role:         models.RoleVendor,
			Phone:        gofakeit.Phone(),
		}
		if err := users.Create(ctx, u); err != nil {
			return nil, nil, err
		}
		vendors = append(vendors, u)
	}

	return couples, vendors, nil
}

func seedConversations(ctx context.Context, db *gorm.DB, couples, vendors []*models.User) (int, int, error) {
	threadRepo := repository.NewThreadRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	threadCount, messageCount := 0, 0
	for _, couple := range couples {
		// Each couple talks to a few vendors.
		for i := 0; i < 1+rand.Intn(3); i++ {
			vendor := vendors[rand.Intn(len(vendors))]
			thread, err := threadRepo.GetOrCreate(ctx, couple.ID, vendor.ID)
			if err != nil {
				return 0, 0, err
			}
			threadCount++

			var lastMsg *models.Message
			numMessages := 2 + rand.Intn(10)
			when := time.Now().Add(-time.Duration(rand.Intn(14*24)) * time.Hour)
			for j := 0; j < numMessages; j++ {
				sender, role := couple, models.RoleCouple
				if rand.Intn(2) == 0 {
					sender, role = vendor, models.RoleVendor
				}
				msg := &models.Message{
					ThreadID:   thread.ID,
					SenderID:   sender.ID,
					SenderRole: role,
					Content:    gofakeit.Sentence(4 + rand.Intn(10)),
					Kind:       models.KindText,
					Status:     models.StatusRead,
				}
				if err := msgRepo.Create(ctx, msg); err != nil {
					return 0, 0, err
				}
				when = when.Add(time.Duration(1+rand.Intn(120)) * time.Minute)
				lastMsg = msg
				messageCount++
			}

			if lastMsg != nil {
				preview := messaging.TruncatePreview(lastMsg.Content, messaging.PreviewMaxLen)
				if err := threadRepo.TouchLastMessage(ctx, thread.ID, preview, when); err != nil {
					return 0, 0, err
				}
			}
		}
	}
	return threadCount, messageCount, nil
}
