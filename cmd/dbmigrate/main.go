package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"tg-postplanner/internal/config"
	"tg-postplanner/internal/models"
	"tg-postplanner/internal/storage"

	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	action := flag.String("action", "migrate", "Action to perform (migrate, reset, status)")
	yes := flag.Bool("yes", false, "Skip the confirmation prompt of reset")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := storage.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer storage.Close()

	db := storage.GetDB()
	switch *action {
	case "migrate":
		if err := migrateDatabase(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migration completed successfully")
	case "reset":
		if !*yes && !confirm("WARNING: This will delete all scheduled posts! Are you sure? (y/N): ") {
			log.Println("Reset cancelled")
			return
		}
		if err := resetDatabase(db); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		log.Println("Database reset completed successfully")
	case "status":
		checkStatus(db)
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func migrateDatabase(db *gorm.DB) error {
	fmt.Println("Migrating database...")
	if err := storage.NewPostRepository(db).MigrateTable(); err != nil {
		return fmt.Errorf("failed to migrate Post model: %w", err)
	}
	return nil
}

// resetDatabase drops the posts table and recreates it
func resetDatabase(db *gorm.DB) error {
	fmt.Println("Resetting database...")
	if err := db.Migrator().DropTable(&models.Post{}); err != nil {
		return fmt.Errorf("failed to drop posts table: %w", err)
	}
	return migrateDatabase(db)
}

func checkStatus(db *gorm.DB) {
	fmt.Println("Checking database status...")

	if !db.Migrator().HasTable(&models.Post{}) {
		fmt.Println("❌ posts table does not exist")
		return
	}
	fmt.Println("✅ posts table exists")

	var rows []struct {
		Status models.PostStatus
		Count  int64
	}
	err := db.Model(&models.Post{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		fmt.Printf("   - Failed to count posts: %v\n", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("   - Contains no posts")
	}
	for _, row := range rows {
		fmt.Printf("   - %s: %d\n", row.Status, row.Count)
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.TrimSpace(answer)
	return answer == "y" || answer == "Y"
}
