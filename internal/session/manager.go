package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"techquest_backend/internal/model"
	"techquest_backend/pkg/logger"
	"techquest_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker 跨实例互斥，防止同一测验被多个标签页同时结束
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// DataFactory 为答题用户绑定 QuizDataService
type DataFactory func(userID uint) QuizDataService

type Policy struct {
	TimeoutPolicy   TimeoutPolicy
	RedirectPath    string
	RedirectDelay   time.Duration
	IdleTimeout     time.Duration
	DefaultLanguage string
}

type ManagerConfig struct {
	Data         DataFactory
	Executor     CodeExecutionService
	Evaluator    EvaluationService
	Locker       Locker
	Languages    []string
	Policy       Policy
	TickInterval time.Duration
	// 结束评测不随 HTTP 请求取消，但有上限
	FinishTimeout time.Duration
}

type entry struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

type takerKey struct {
	userID uint
	quizID uint
}

// Manager 进程内的会话注册表，每个会话一个计时 goroutine
type Manager struct {
	cfg ManagerConfig
	log *zap.Logger

	mu       sync.Mutex
	policy   Policy
	sessions map[string]*entry
	byTaker  map[takerKey]string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = 3 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		log:      logger.Named("session_manager"),
		policy:   cfg.Policy,
		sessions: make(map[string]*entry),
		byTaker:  make(map[takerKey]string),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// UpdatePolicy 配置热更新后调用，只影响之后打开的会话
func (m *Manager) UpdatePolicy(p Policy) {
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
	m.log.Info("session policy updated", zap.String("timeout_policy", string(p.TimeoutPolicy)))
}

func (m *Manager) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Open 打开会话；同一用户同一测验已有会话时，旧会话被替换（等同刷新页面）
func (m *Manager) Open(ctx context.Context, userID uint, role model.UserRole, quizID uint) (*Controller, error) {
	policy := m.Policy()
	id := uuid.NewString()

	ctrl, err := Open(ctx, Options{
		ID:            id,
		QuizID:        quizID,
		UserID:        userID,
		Role:          role,
		Language:      policy.DefaultLanguage,
		Languages:     m.cfg.Languages,
		TimeoutPolicy: policy.TimeoutPolicy,
		RedirectPath:  policy.RedirectPath,
		RedirectDelay: policy.RedirectDelay,
	}, Deps{
		Data:      m.cfg.Data(userID),
		Executor:  m.cfg.Executor,
		Evaluator: m.cfg.Evaluator,
	})
	if err != nil {
		return nil, err
	}

	ctrl.OnFinished(func(out FinishOutcome) {
		m.scheduleRemoval(id, out.RedirectAfter)
	})
	ctrl.OnExpired(func(ctx context.Context) (FinishOutcome, error) {
		return m.expire(ctx, ctrl)
	})

	timerCtx, cancel := context.WithCancel(m.baseCtx)
	key := takerKey{userID: userID, quizID: quizID}

	m.mu.Lock()
	if old, ok := m.byTaker[key]; ok {
		m.removeLocked(old)
	}
	m.sessions[id] = &entry{ctrl: ctrl, cancel: cancel}
	m.byTaker[key] = id
	active := len(m.sessions)
	m.mu.Unlock()
	monitoring.SessionsActive.Set(float64(active))

	ticker := time.NewTicker(m.cfg.TickInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		ctrl.RunTimer(timerCtx, ticker.C)
	}()

	m.log.Info("quiz session opened",
		zap.String("session_id", id),
		zap.Uint("quiz_id", quizID),
		zap.Uint("user_id", userID),
		zap.String("state", string(ctrl.State())),
	)
	return ctrl, nil
}

// Get 只返回属于 userID 的会话
func (m *Manager) Get(id string, userID uint) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || e.ctrl.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return e.ctrl, nil
}

func (m *Manager) Close(id string, userID uint) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok || e.ctrl.UserID() != userID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.removeLocked(id)
	active := len(m.sessions)
	m.mu.Unlock()
	monitoring.SessionsActive.Set(float64(active))
	return nil
}

// Finish 在分布式锁内结束会话
func (m *Manager) Finish(ctx context.Context, id string, userID uint, confirm ConfirmFunc) (FinishOutcome, error) {
	ctrl, err := m.Get(id, userID)
	if err != nil {
		return FinishOutcome{}, err
	}
	return m.finishLocked(ctx, ctrl, func(ctx context.Context) (FinishOutcome, error) {
		return ctrl.Finish(ctx, confirm)
	})
}

// expire 计时归零的自动结束同样要拿结束锁
func (m *Manager) expire(ctx context.Context, ctrl *Controller) (FinishOutcome, error) {
	return m.finishLocked(ctx, ctrl, ctrl.forceFinish)
}

func (m *Manager) finishLocked(ctx context.Context, ctrl *Controller, finish func(context.Context) (FinishOutcome, error)) (FinishOutcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FinishTimeout)
	defer cancel()

	if m.cfg.Locker != nil {
		key := fmt.Sprintf("quiz:finish:%d:%d", ctrl.QuizID(), ctrl.UserID())
		ok, err := m.cfg.Locker.TryLock(ctx, key, m.cfg.FinishTimeout)
		if err != nil {
			m.log.Warn("finish lock unavailable, continuing without it", zap.Error(err))
		} else if !ok {
			return FinishOutcome{}, ErrBusy
		} else {
			defer func() {
				if err := m.cfg.Locker.Unlock(context.Background(), key); err != nil {
					m.log.Warn("finish unlock failed", zap.String("key", key), zap.Error(err))
				}
			}()
		}
	}

	return finish(ctx)
}

func (m *Manager) scheduleRemoval(id string, delay time.Duration) {
	remove := func() {
		m.mu.Lock()
		m.removeLocked(id)
		active := len(m.sessions)
		m.mu.Unlock()
		monitoring.SessionsActive.Set(float64(active))
	}
	if delay <= 0 {
		// 回调可能在持有 Finish 调用栈时触发，异步移除
		go remove()
		return
	}
	time.AfterFunc(delay, remove)
}

func (m *Manager) removeLocked(id string) {
	e, ok := m.sessions[id]
	if !ok {
		return
	}
	e.cancel()
	delete(m.sessions, id)
	key := takerKey{userID: e.ctrl.UserID(), quizID: e.ctrl.QuizID()}
	if m.byTaker[key] == id {
		delete(m.byTaker, key)
	}
}

// SweepIdle 清理长时间无操作的会话，返回清理数量
func (m *Manager) SweepIdle(now time.Time) int {
	idle := m.Policy().IdleTimeout
	if idle <= 0 {
		return 0
	}

	m.mu.Lock()
	var stale []string
	for id, e := range m.sessions {
		if now.Sub(e.ctrl.LastActive()) > idle && !e.ctrl.Evaluating() {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.removeLocked(id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if len(stale) > 0 {
		monitoring.SessionsActive.Set(float64(active))
		m.log.Info("idle quiz sessions removed", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown 停止所有计时器
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for id := range m.sessions {
		m.removeLocked(id)
	}
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
	monitoring.SessionsActive.Set(0)
}
