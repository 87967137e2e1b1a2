// Package firebaseapp initialises the Firebase Admin SDK clients shared by
// push delivery and the presence store.
package firebaseapp

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type Config struct {
	ProjectID       string `envconfig:"PROJECT_ID"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE"`
	// DatabaseURL enables the Realtime Database client when set.
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

// Enabled reports whether enough configuration is present to build an app.
func (c Config) Enabled() bool {
	return c.CredentialsFile != "" || c.ProjectID != ""
}

type Clients struct {
	Messaging *messaging.Client
	Database  *db.Client
}

// New builds the Firebase app. Without a credentials file application
// default credentials are used.
func New(ctx context.Context, cfg Config) (*Clients, error) {
	if !cfg.Enabled() {
		return nil, errors.New("firebase is not configured")
	}
	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID, DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	msg, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	clients := &Clients{Messaging: msg}
	if cfg.DatabaseURL != "" {
		database, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase app.Database: %w", err)
		}
		clients.Database = database
	}
	return clients, nil
}
