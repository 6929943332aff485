package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	authgate "github.com/authgate/go-authgate"
	"github.com/authgate/go-authgate/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := authgate.LoadConfig()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer sqldb.Close()

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := createSchema(ctx, db); err != nil {
		log.Fatalf("create schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	repo := authgate.NewRepositoryManager(db, authgate.SystemClock)
	repo.MustValidate()

	sessions := session.NewStore(rdb, cfg.SessionTTL)

	mailer := authgate.NewSMTPMailer(cfg)
	queue := authgate.NewMailQueue(mailer, cfg.MailQueueSize, nil)
	queue.Start(ctx)
	defer queue.Stop()

	engine := authgate.NewEngine(cfg, repo, sessions).
		WithNotifier(queue)

	repo.PurposeTokens().StartSweeper(ctx, cfg.SweepInterval, nil)

	auther := authgate.NewSessionAuthenticator(engine, sessions, cfg)

	srv := router.NewFiberAdapter(func(app *fiber.App) *fiber.App {
		return app
	})

	authgate.RegisterAuthRoutes(srv.Router(),
		authgate.WithControllerEngine(engine),
		authgate.WithControllerAuthenticator(auther),
		authgate.WithControllerConfig(cfg),
	)

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Serve(cfg.HTTPAddr); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
}

func createSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*authgate.User)(nil),
		(*authgate.PurposeToken)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}
