package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	authcore "github.com/halcyonsec/authcore"
)

type userRecord struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
	MFAEnabled   bool   `json:"mfaEnabled"`
}

// fileDirectory is a read-mostly user directory loaded from a JSON file.
// Production deployments replace this with a database-backed implementation
// of [authcore.UserDirectory]; the engine does not care which.
type fileDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]*authcore.Credential
	logger  *slog.Logger
}

func loadDirectory(path string, logger *slog.Logger) (*fileDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []userRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byEmail := make(map[string]*authcore.Credential, len(records))
	for _, rec := range records {
		email := authcore.NormalizeEmail(rec.Email)
		if email == "" || rec.UserID == "" || rec.PasswordHash == "" {
			return nil, fmt.Errorf("incomplete user record for %q", rec.Email)
		}
		byEmail[email] = &authcore.Credential{
			UserID:       rec.UserID,
			Email:        email,
			PasswordHash: rec.PasswordHash,
			MFAEnabled:   rec.MFAEnabled,
			Role:         rec.Role,
		}
	}

	return &fileDirectory{byEmail: byEmail, logger: logger}, nil
}

func (d *fileDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}

func (d *fileDirectory) FindByEmail(_ context.Context, email string) (*authcore.Credential, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cred, ok := d.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("unknown account")
	}
	return cred, nil
}

func (d *fileDirectory) RecordLogin(_ context.Context, userID string, at time.Time) error {
	d.logger.Info("last login", "user_id", userID, "at", at.Format(time.RFC3339))
	return nil
}
