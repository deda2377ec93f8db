package records

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tulparlabs/agentrun/config"
	"github.com/tulparlabs/agentrun/types"
)

// Open connects to the records database named by cfg. The sqlite
// driver is pure Go, so a file path is all a single-node deployment
// needs.
func Open(cfg config.RecordsConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, types.NewError(types.ErrConfig, fmt.Sprintf("unknown records driver %q", cfg.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to connect records database").WithCause(err)
	}

	logger.Info("records database connected",
		zap.String("component", "records"),
		zap.String("driver", cfg.Driver),
	)
	return db, nil
}
