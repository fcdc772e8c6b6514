// Package repository defines the audit log of administrative actions.
package repository

import (
	"context"

	"github.com/nadmax/resqview/internal/repository/models"
)

type ActionRepository interface {
	LogAction(ctx context.Context, a *models.Action) error
	RecentActions(ctx context.Context, limit int) ([]models.Action, error)
	ActionsByType(ctx context.Context, action string, limit int) ([]models.Action, error)
	ActionStats(ctx context.Context, hours int) ([]models.ActionStats, error)
	Close() error
}
