package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/background"
	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/db"
	"github.com/user/taskmanager-go/db/memstore"
	"github.com/user/taskmanager-go/db/mongostore"
	"github.com/user/taskmanager-go/db/pgstore"
	"github.com/user/taskmanager-go/notify"
	"github.com/user/taskmanager-go/tasks"
	"github.com/user/taskmanager-go/users"
)

// Stores is one persistence backend seen through both repositories.
type Stores struct {
	Users  auth.UserRepository
	Tasks  tasks.Repository
	Health HealthFunc
	Close  func(ctx context.Context) error
}

// App is the assembled application.
type App struct {
	Handler http.Handler
	Mail    *background.Dispatcher
	stores  Stores
}

// OpenStores connects the backend selected by cfg.Driver. Postgres schemas
// are migrated before the pool is returned.
func OpenStores(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (Stores, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := db.NewMongoClient(ctx, cfg.Mongo)
		if err != nil {
			return Stores{}, err
		}
		store := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return Stores{}, fmt.Errorf("ensure mongodb indexes: %w", err)
		}
		log.Info("connected to mongodb", zap.String("database", cfg.Mongo.Database))
		return Stores{
			Users:  store.Users(),
			Tasks:  store.Tasks(),
			Health: func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			Close:  client.Disconnect,
		}, nil

	case config.DriverPostgres:
		if err := db.RunMigrations(cfg.Postgres, log); err != nil {
			return Stores{}, err
		}
		pool, err := db.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return Stores{}, err
		}
		store := pgstore.New(pool)
		log.Info("connected to postgres", zap.String("database", cfg.Postgres.DBName))
		return Stores{
			Users:  store.Users(),
			Tasks:  store.Tasks(),
			Health: pool.Ping,
			Close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	case config.DriverMemory:
		store := memstore.New()
		log.Warn("using in-memory store, data is lost on restart")
		return Stores{Users: store.Users(), Tasks: store.Tasks()}, nil
	}
	return Stores{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// NewNotifier picks SendGrid when an API key is configured and the
// log-only notifier otherwise.
func NewNotifier(cfg *config.MailConfig, log *zap.Logger) notify.Notifier {
	if cfg.SendGridAPIKey == "" {
		log.Warn("SENDGRID_API_KEY not set, emails will only be logged")
		return notify.NewLogOnly(log)
	}
	return notify.NewSendGrid(cfg.SendGridAPIKey, cfg.From)
}

// Assemble wires services, handlers and the router over st. It starts the
// mail dispatcher; call Close to stop it and release the stores.
func Assemble(st Stores, cfg *config.AppConfig, n notify.Notifier, log *zap.Logger) *App {
	mail := background.StartMailDispatcher(n, log.Named("mail"), *cfg.Mail)

	credentials := auth.NewCredentials(st.Users, cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(st.Users, *cfg.Auth)

	taskService := tasks.NewService(st.Tasks, log.Named("tasks"))
	accounts := users.NewAccountService(
		st.Users, credentials, tokens, taskService, mail,
		users.AvatarPolicy{MaxBytes: cfg.Upload.AvatarMaxBytes},
		log.Named("users"),
	)

	handler := NewRouter(Routes{
		Users:  users.NewUserHandlers(accounts, log),
		Tasks:  tasks.NewTaskHandlers(taskService, log),
		Gate:   auth.Gate(tokens, log),
		Health: st.Health,
	}, *cfg.Server, log)

	return &App{Handler: handler, Mail: mail, stores: st}
}

// Close drains queued email and closes the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Mail.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop mail dispatcher: %w", err))
	}
	if a.stores.Close != nil {
		if err := a.stores.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close stores: %w", err))
		}
	}
	return errors.Join(errs...)
}
