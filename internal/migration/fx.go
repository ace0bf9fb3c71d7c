package migration

import (
	"github.com/velra-app/velra/internal/config"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// SQLite and MySQL are dev conveniences, schema comes from the models.
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

// AutoMigrate creates the schema from the domain models. Used for
// non-postgres databases and in tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&userdomain.User{},
		&userdomain.PasswordResetToken{},
		&usagedomain.UsageRecord{},
		&usagedomain.UsageConsumption{},
		&tryondomain.Prediction{},
		&notificationdomain.DeviceToken{},
		&notificationdomain.Preference{},
		&newsdomain.Headline{},
		&newsdomain.SavedArticle{},
		&newsdomain.Insight{},
		&subscriptiondomain.WebhookEvent{},
	)
}
