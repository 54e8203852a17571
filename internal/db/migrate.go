/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/gclsync/internal/models"
)

// Migrate creates or updates the deployment record table.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.DeploymentRecord{}); err != nil {
		return fmt.Errorf("migrate deployment records: %w", err)
	}
	return nil
}
