// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/xoserver/models"
)

// Database 数据库接口
type Database interface {
	// SaveGameRecord stores a finished game and updates the stats of its
	// rated players in one transaction. Saving the same game twice is a no-op.
	SaveGameRecord(ctx context.Context, record *models.GameRecord) error
	GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error)
	// SaveInvitation inserts or overwrites an invitation by id.
	SaveInvitation(ctx context.Context, inv *models.Invitation) error
	SaveChatMessage(ctx context.Context, msg *models.ChatMessage) error
	// ChatHistory returns up to q.Limit messages, oldest first.
	ChatHistory(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

func historyLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return n
	}
}

// statDeltas returns the win, loss and draw increments for one player.
func statDeltas(outcome string) (wins, losses, draws int) {
	switch outcome {
	case models.OutcomeWin:
		return 1, 0, 0
	case models.OutcomeLoss:
		return 0, 1, 0
	case models.OutcomeDraw:
		return 0, 0, 1
	}
	return 0, 0, 0
}

// reverse flips a newest-first page into chronological order.
func reverse(msgs []models.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
