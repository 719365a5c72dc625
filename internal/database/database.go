package database

import (
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fleamarket/internal/models"
)

func Initialize(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto migrate the schema
	err = db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Item{},
		&models.TransactionEvidence{},
		&models.Shipping{},
	)
	if err != nil {
		return nil, err
	}

	if err := SeedCategories(db); err != nil {
		return nil, err
	}

	logrus.WithField("database", databaseURL).Info("Database initialized successfully")
	return db, nil
}

var categories = []models.Category{
	{ID: 1, ParentID: 0, CategoryName: "Sofas"},
	{ID: 2, ParentID: 1, CategoryName: "Armchairs"},
	{ID: 3, ParentID: 1, CategoryName: "Two-seater sofas"},
	{ID: 4, ParentID: 1, CategoryName: "Corner sofas"},
	{ID: 5, ParentID: 1, CategoryName: "Sofa beds"},
	{ID: 10, ParentID: 0, CategoryName: "Home chairs"},
	{ID: 11, ParentID: 10, CategoryName: "Stools"},
	{ID: 12, ParentID: 10, CategoryName: "Dining chairs"},
	{ID: 13, ParentID: 10, CategoryName: "Living room chairs"},
	{ID: 20, ParentID: 0, CategoryName: "Kids chairs"},
	{ID: 21, ParentID: 20, CategoryName: "Study chairs"},
	{ID: 22, ParentID: 20, CategoryName: "High chairs"},
	{ID: 30, ParentID: 0, CategoryName: "Office chairs"},
	{ID: 31, ParentID: 30, CategoryName: "Desk chairs"},
	{ID: 32, ParentID: 30, CategoryName: "Swivel chairs"},
	{ID: 33, ParentID: 30, CategoryName: "Recliners"},
	{ID: 40, ParentID: 0, CategoryName: "Folding chairs"},
	{ID: 41, ParentID: 40, CategoryName: "Camping chairs"},
	{ID: 50, ParentID: 0, CategoryName: "Benches"},
	{ID: 51, ParentID: 50, CategoryName: "Storage benches"},
}

// SeedCategories inserts the fixed category tree, leaving existing rows alone.
func SeedCategories(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&categories).Error
}
