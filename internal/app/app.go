package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"techquest_backend/internal/config"
	"techquest_backend/internal/controller"
	"techquest_backend/internal/repository"
	"techquest_backend/internal/service"
	"techquest_backend/internal/session"
	"techquest_backend/pkg/configwatcher"
	"techquest_backend/pkg/database"
	"techquest_backend/pkg/logger"
	"techquest_backend/pkg/monitoring"
	"techquest_backend/pkg/security"
	"techquest_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	ConfigDir string
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	Sessions  *session.Manager
	tracer    *sdktrace.TracerProvider
	closers   []func() error

	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	quiz       *repository.QuizRepository
	attempt    *repository.AttemptRepository
	assignment *repository.AssignmentRepository
	evaluation *repository.EvaluationRepository
}

type services struct {
	storage    *service.StorageService
	mail       *service.MailService
	execution  *service.ExecutionService
	quiz       *service.QuizService
	evaluation *service.EvaluationService
}

type controllers struct {
	session    *controller.SessionController
	quiz       *controller.QuizController
	compile    *controller.CompileController
	evaluation *controller.EvaluationController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		quiz:       repository.NewQuizRepository(db),
		attempt:    repository.NewAttemptRepository(db),
		assignment: repository.NewAssignmentRepository(db),
		evaluation: repository.NewEvaluationRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) (*services, error) {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.mail = service.NewMailService(cfg.Mail)
	s.execution = service.NewExecutionService(cfg.Executor)
	s.quiz = service.NewQuizService(repos.quiz, repos.attempt, repos.assignment, repos.user, rdb)

	grader, closeGrader, err := service.NewGrader(context.Background(), cfg.AI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeGrader)
	s.evaluation = service.NewEvaluationService(repos.quiz, repos.evaluation, grader, s.mail, s.storage)

	return s, nil
}

// SessionPolicy 配置文件中的会话策略
func SessionPolicy(cfg *config.Config) session.Policy {
	return session.Policy{
		TimeoutPolicy:   session.TimeoutPolicy(cfg.Session.TimeoutPolicy),
		RedirectPath:    cfg.Session.RedirectPath,
		RedirectDelay:   cfg.Session.RedirectDelay(),
		IdleTimeout:     cfg.Session.IdleTimeout(),
		DefaultLanguage: cfg.Session.DefaultLanguage,
	}
}

func (a *App) initSessions(s *services, rdb *redis.Client) *session.Manager {
	return session.NewManager(session.ManagerConfig{
		Data:      func(userID uint) session.QuizDataService { return s.quiz.ForUser(userID) },
		Executor:  s.execution,
		Evaluator: s.evaluation,
		Locker:    service.NewLocker(rdb),
		Languages: s.execution.SupportedLanguages(),
		Policy:    SessionPolicy(a.Config),
	})
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		session:    controller.NewSessionController(a.Sessions),
		quiz:       controller.NewQuizController(s.quiz, s.evaluation),
		compile:    controller.NewCompileController(s.execution),
		evaluation: controller.NewEvaluationController(s.evaluation),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 定期清理长时间无操作的会话
func (a *App) startBackgroundTasks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				a.Sessions.SweepIdle(now)
			}
		}
	}()

	go func() {
		path := filepath.Join(a.ConfigDir, "config.yaml")
		err := configwatcher.WatchConfig(ctx, path, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		})
		if err != nil {
			logger.Log.Warn("config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DB:        db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services, err := app.initServices(repos, cfg, rdb)
	if err != nil {
		logger.Log.Fatal("Failed to initialize services", zap.Error(err))
	}
	app.Sessions = app.initSessions(services, rdb)
	controllers := app.initControllers(services, db, rdb)

	app.RegisterConfigCallback(func(newCfg *config.Config) {
		app.Sessions.UpdatePolicy(SessionPolicy(newCfg))
	})

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("techquest", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/reports", cfg.Storage.LocalPath)
	}

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	a.startBackgroundTasks(ctx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止所有会话计时器
	a.Sessions.Shutdown()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Log.Warn("close resource failed", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
