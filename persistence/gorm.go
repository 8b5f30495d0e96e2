// persistence/gorm.go
package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/models"
)

// GormStore 使用GORM的数据库实现，支持 PostgreSQL 和 SQLite
type GormStore struct {
	db *gorm.DB
}

// zapWriter routes gorm's own log lines into the process logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Log.Debugf(format, args...)
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(cfg config.PostgresConfig) (*GormStore, error) {
	store, err := OpenGorm(postgres.Open(cfg.PostgresDSN()))
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return store, nil
}

// NewGormSQLite opens (or creates) a SQLite database at path.
func NewGormSQLite(path string) (*GormStore, error) {
	store, err := OpenGorm(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway
	sqlDB.SetMaxOpenConns(1)
	return store, nil
}

// OpenGorm opens any gorm dialector and migrates the schema.
func OpenGorm(dialector gorm.Dialector) (*GormStore, error) {
	gormLogger := gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Silent,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormPlayer{},
		&models.GormGameRecord{},
		&models.GormInvitation{},
		&models.GormChatMessage{},
	)
}

// SaveGameRecord 保存游戏记录并更新玩家统计
func (s *GormStore) SaveGameRecord(ctx context.Context, record *models.GameRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoNothing: true,
		}).Create(models.NewGormGameRecord(record))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// already archived
			return nil
		}

		for _, userID := range record.RatedPlayers {
			var player models.GormPlayer
			if err := tx.Where(models.GormPlayer{UserID: userID}).FirstOrCreate(&player).Error; err != nil {
				return err
			}
			wins, losses, draws := statDeltas(record.Outcome(userID))
			err := tx.Model(&player).Updates(map[string]interface{}{
				"games":  gorm.Expr("games + ?", 1),
				"wins":   gorm.Expr("wins + ?", wins),
				"losses": gorm.Expr("losses + ?", losses),
				"draws":  gorm.Expr("draws + ?", draws),
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetPlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	var player models.GormPlayer
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return player.Stats(), nil
}

func (s *GormStore) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.NewGormInvitation(inv)).Error
}

func (s *GormStore) SaveChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.db.WithContext(ctx).Create(models.NewGormChatMessage(msg)).Error
}

func (s *GormStore) ChatHistory(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error) {
	tx := s.db.WithContext(ctx).Model(&models.GormChatMessage{})
	if q.RoomID != "" {
		tx = tx.Where("room_id = ?", q.RoomID)
	} else {
		tx = tx.Where("room_id = ? AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
			"", q.UserID, q.PeerID, q.PeerID, q.UserID)
	}
	if !q.Before.IsZero() {
		tx = tx.Where("sent_at < ?", q.Before)
	}

	var rows []models.GormChatMessage
	if err := tx.Order("sent_at DESC").Limit(historyLimit(q.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Message())
	}
	reverse(out)
	return out, nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
