package customer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is the customers table row.
type Record struct {
	ID       string `gorm:"column:id;primaryKey"`
	Name     string `gorm:"column:name"`
	Phone    string `gorm:"column:phone;uniqueIndex"`
	FCMToken string `gorm:"column:fcm_token"`
}

// TableName pins the table name.
func (Record) TableName() string { return "customers" }

// GormDirectory reads customers through gorm.
type GormDirectory struct {
	db *gorm.DB
}

// OpenGorm opens a gorm handle on a PostgreSQL DSN with SQL logging disabled.
func OpenGorm(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return db, nil
}

// NewGormDirectory wraps a gorm handle.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Migrate creates the customers table when missing.
func (d *GormDirectory) Migrate() error {
	return d.db.AutoMigrate(&Record{})
}

func (d *GormDirectory) FindByID(ctx context.Context, id string) (Customer, error) {
	return d.first(ctx, "id = ?", id)
}

func (d *GormDirectory) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	return d.first(ctx, "phone = ?", phone)
}

func (d *GormDirectory) SetFCMToken(ctx context.Context, id, token string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Record{}).Where("fcm_token = ? AND id <> ?", token, id).Update("fcm_token", "").Error; err != nil {
			return fmt.Errorf("clear fcm token: %w", err)
		}
		res := tx.Model(&Record{}).Where("id = ?", id).Update("fcm_token", token)
		if res.Error != nil {
			return fmt.Errorf("update fcm token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (d *GormDirectory) first(ctx context.Context, query string, arg any) (Customer, error) {
	var rec Record
	err := d.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return Customer{ID: rec.ID, Name: rec.Name, Phone: rec.Phone, FCMToken: rec.FCMToken}, nil
}
