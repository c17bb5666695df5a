package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tracktech-scheduler/internal/common/database"
	mqttcommon "tracktech-scheduler/internal/common/mqtt"
	rediscommon "tracktech-scheduler/internal/common/redis"
	"tracktech-scheduler/internal/config"
	"tracktech-scheduler/internal/consumer"
	"tracktech-scheduler/internal/events"
	httpapi "tracktech-scheduler/internal/http"
	"tracktech-scheduler/internal/notify"
	"tracktech-scheduler/internal/repository"
	"tracktech-scheduler/internal/service"
	"tracktech-scheduler/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	commandBlock   = 2 * time.Second
	webhookBackoff = 500 * time.Millisecond
)

// App 排产服务进程：存储、事件、命令消费、HTTP
type App struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	planner     *service.PlannerService
	consumer    *consumer.CommandConsumer
	server      *service.Server
}

// New 按配置装配各组件
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}
	ctx := context.Background()

	needRedis := cfg.Store.Backend == "redis" || cfg.Events.Enabled || cfg.Commands.Enabled
	if needRedis {
		client, err := rediscommon.Connect(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redisClient = client
	}

	kv, err := a.newKVStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Planner.Timezone)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("invalid planner timezone %q: %w", cfg.Planner.Timezone, err)
	}

	publisher, err := a.newPublisher()
	if err != nil {
		a.close()
		return nil, err
	}

	opts := service.Options{
		Publisher: publisher,
		Location:  loc,
	}
	if cfg.Notify.WebhookURL != "" {
		opts.Notifier = notify.NewWebhookNotifier(
			cfg.Notify.WebhookURL,
			time.Duration(cfg.Notify.Timeout)*time.Second,
			webhookBackoff,
			logger,
		)
	}

	repo := repository.NewRepository(kv, cfg.Store.KeyPrefix, logger)
	a.planner = service.NewPlannerService(repo, opts, logger)

	if cfg.Commands.Enabled {
		a.consumer = consumer.NewCommandConsumer(
			a.redisClient,
			a.planner,
			logger,
			cfg.Commands.Stream,
			cfg.Commands.ConsumerGroup,
			cfg.Commands.ConsumerName,
			int64(cfg.Commands.BatchSize),
			commandBlock,
		)
	}

	router := httpapi.NewRouter(logger)
	router.RegisterPlannerRoutes(httpapi.NewPlannerHandler(a.planner, logger))
	a.server = service.NewServer(cfg.HTTP.Addr, router, logger)

	return a, nil
}

// newKVStore 集合持久化后端
func (a *App) newKVStore(ctx context.Context) (store.KVStore, error) {
	switch a.config.Store.Backend {
	case "redis":
		return store.NewRedisKVStore(a.redisClient), nil
	case "postgres":
		db, err := database.NewPostgresDB(ctx, &a.config.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		kv := store.NewPostgresKVStore(db)
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare planner_kv table: %w", err)
		}
		return kv, nil
	case "memory":
		a.logger.Warn("Using in-memory store, state is lost on restart")
		return store.NewMemoryKVStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", a.config.Store.Backend)
	}
}

// newPublisher Redis Stream 与 MQTT 可同时启用
func (a *App) newPublisher() (events.Publisher, error) {
	var pubs events.MultiPublisher
	if a.config.Events.Enabled {
		pubs = append(pubs, events.NewStreamPublisher(a.redisClient, a.config.Events.Stream, a.logger))
	}
	if a.config.Events.MQTTEnabled {
		client, err := mqttcommon.NewClient(&a.config.MQTT, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		a.mqttClient = client
		pubs = append(pubs, events.NewMQTTPublisher(client, a.config.Events.TopicPrefix))
	}
	switch len(pubs) {
	case 0:
		return events.NopPublisher{}, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}

// Start 加载状态后启动命令消费与 HTTP，阻塞直到 ctx 取消或 HTTP 退出
func (a *App) Start(ctx context.Context) error {
	if err := a.planner.Load(ctx); err != nil {
		return fmt.Errorf("failed to load planner state: %w", err)
	}

	a.logger.Info("Starting planner service",
		zap.String("http_addr", a.config.HTTP.Addr),
		zap.String("store_backend", a.config.Store.Backend),
		zap.Bool("events_enabled", a.config.Events.Enabled),
		zap.Bool("mqtt_enabled", a.config.Events.MQTTEnabled),
		zap.Bool("commands_enabled", a.consumer != nil),
	)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				a.logger.Error("Command consumer stopped", zap.Error(err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 关闭 HTTP 与外部连接
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	// 等待后台 webhook 通知发送完成
	a.planner.Wait()
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.redisClient != nil {
		if err := rediscommon.Close(a.redisClient); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
