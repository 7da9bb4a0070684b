package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"tenderlens/internal/ai"
	appsvc "tenderlens/internal/app"
	"tenderlens/internal/cache"
	"tenderlens/internal/config"
	"tenderlens/internal/extraction"
	"tenderlens/internal/index"
	"tenderlens/internal/memory"
	"tenderlens/internal/model"
	mysqlClient "tenderlens/internal/platform/mysql"
	rabbitmqClient "tenderlens/internal/platform/rabbitmq"
	redisClient "tenderlens/internal/platform/redis"
	"tenderlens/internal/repository"
	"tenderlens/internal/retrieval"
	"tenderlens/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	DocumentService *appsvc.DocumentService
	ChatService     *appsvc.ChatService
	Orchestrator    *extraction.Orchestrator
	Worker          *worker.ExtractionWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.Document{},
		&model.DocumentPage{},
		&model.ExtractionJob{},
		&model.Requirement{},
		&model.BomItem{},
		&model.Chunk{},
		&model.ChatSession{},
		&model.ChatMessage{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	documentRepo := repository.NewDocumentRepository(mysqlDB)
	pageRepo := repository.NewPageRepository(mysqlDB)
	jobRepo := repository.NewExtractionJobRepository(mysqlDB)
	requirementRepo := repository.NewRequirementRepository(mysqlDB)
	bomRepo := repository.NewBomItemRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	sessionRepo := repository.NewSessionRepository(mysqlDB)
	messageRepo := repository.NewMessageRepository(mysqlDB)

	aiClient := ai.NewClient(time.Duration(cfg.LLM.RequestTimeoutSec) * time.Second)
	chatLLM := ai.NewChatCaller(aiClient, ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.ChatModel,
	})
	extractionLLM := ai.NewChatCaller(aiClient, ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.ExtractionModel,
	})
	embedder := ai.NewEmbeddingCaller(aiClient, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})

	indexManager := index.NewManager(chunkRepo, pageRepo, embedder)
	retrievalEngine := retrieval.NewEngine(embedder, indexManager, cfg.Retrieval.TopK, cfg.Retrieval.SnippetLen)
	memoryManager := memory.NewManager(chatLLM, sessionRepo, memory.NewTokenCounter(), memory.Config{
		MaxTokens:      cfg.Memory.MaxTokens,
		BufferMessages: cfg.Memory.BufferMessages,
		SemanticTopK:   cfg.Memory.SemanticTopK,
		SummaryTrigger: cfg.Memory.SummaryTrigger,
	})
	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	jobPublisher := rabbitmqClient.NewJobPublisher(mqConn, cfg.RabbitMQ.JobQueue)
	orchestrator := extraction.NewOrchestrator(jobRepo, documentRepo, jobPublisher)
	runner := extraction.NewRunner(
		jobRepo,
		documentRepo,
		pageRepo,
		requirementRepo,
		bomRepo,
		extraction.NewRequirementExtractor(extractionLLM),
		extraction.NewBomExtractor(extractionLLM),
		time.Duration(cfg.LLM.ExtractionTimeoutSec)*time.Second,
	)

	documentService := appsvc.NewDocumentService(
		documentRepo, pageRepo, requirementRepo, bomRepo, jobRepo,
		indexManager, cfg.Upload.MaxSizeMB,
	)
	chatService := appsvc.NewChatService(
		sessionRepo, messageRepo, documentRepo, historyCache,
		retrievalEngine, memoryManager, chatLLM, embedder,
	)

	// Jobs orphaned by the previous process must be reconciled before the
	// worker starts pulling fresh dispatches.
	if err := orchestrator.RecoverOrphans(ctx); err != nil {
		return nil, fmt.Errorf("recover orphaned jobs failed: %w", err)
	}

	extractionWorker := worker.NewExtractionWorker(mqConn, runner, cfg.RabbitMQ.JobQueue)
	if err := extractionWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start extraction worker failed: %w", err)
	}

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		DocumentService: documentService,
		ChatService:     chatService,
		Orchestrator:    orchestrator,
		Worker:          extractionWorker,
		StartedAt:       time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
