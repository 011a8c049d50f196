package artifact

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/types"
)

// Mirror replicates keyed artifacts outside the process.
type Mirror interface {
	Put(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, fingerprint string) (*Artifact, error)
}

// Config configures the artifact server.
type Config struct {
	// MaxKeyed bounds artifacts addressable by fingerprint; the oldest
	// publish is dropped first. 0 keeps all of them.
	MaxKeyed int `yaml:"max_keyed" json:"max_keyed"`
	// SubscriberBuffer is the per-subscriber event queue length.
	SubscriberBuffer int `yaml:"subscriber_buffer" json:"subscriber_buffer"`
	// MirrorTimeout bounds each mirror call.
	MirrorTimeout time.Duration `yaml:"mirror_timeout" json:"mirror_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxKeyed:         256,
		SubscriberBuffer: 16,
		MirrorTimeout:    2 * time.Second,
	}
}

// Server holds the latest artifact behind an atomic pointer plus a bounded
// fingerprint index.
type Server struct {
	cfg    Config
	mirror Mirror
	logger *zap.Logger

	latest atomic.Pointer[Artifact]

	mu    sync.RWMutex
	keyed map[string]*Artifact
	order []string

	subMu  sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64

	published atomic.Int64
	dropped   atomic.Int64
}

// NewServer creates a server. mirror may be nil.
func NewServer(cfg Config, mirror Mirror, logger *zap.Logger) *Server {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = DefaultConfig().MirrorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		mirror: mirror,
		logger: logger.With(zap.String("component", "artifact_server")),
		keyed:  make(map[string]*Artifact),
		subs:   make(map[uint64]chan Event),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Publish makes a the latest artifact and indexes it by fingerprint. A mirror
// failure is logged; local state stays authoritative.
func (s *Server) Publish(ctx context.Context, a *Artifact) error {
	if a == nil || a.Fingerprint == "" || len(a.Bytes) == 0 {
		return types.NewError(types.ErrInvalidRequest, "artifact requires fingerprint and bytes").WithStage(types.StagePublish)
	}

	s.mu.Lock()
	if _, ok := s.keyed[a.Fingerprint]; ok {
		s.removeOrder(a.Fingerprint)
	}
	s.keyed[a.Fingerprint] = a
	s.order = append(s.order, a.Fingerprint)
	for s.cfg.MaxKeyed > 0 && len(s.order) > s.cfg.MaxKeyed {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keyed, oldest)
	}
	s.latest.Store(a)
	s.mu.Unlock()

	s.published.Add(1)

	if s.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.MirrorTimeout)
		if err := s.mirror.Put(mctx, a); err != nil {
			s.logger.Warn("artifact mirror put failed", zap.String("fingerprint", a.Fingerprint), zap.Error(err))
		}
		cancel()
	}

	s.broadcast(Event{
		Type:          EventPublished,
		Fingerprint:   a.Fingerprint,
		TriangleCount: a.TriangleCount,
		Size:          a.Size(),
		PublishedAt:   time.Now().UTC(),
	})

	s.logger.Info("artifact published",
		zap.String("fingerprint", a.Fingerprint),
		zap.Uint32("triangles", a.TriangleCount),
		zap.Int("bytes", a.Size()),
	)
	return nil
}

func (s *Server) removeOrder(fp string) {
	for i, k := range s.order {
		if k == fp {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Fetch returns the artifact for key: LatestKey, "" or a fingerprint.
func (s *Server) Fetch(ctx context.Context, key string) (*Artifact, error) {
	if key == "" || key == LatestKey {
		if a := s.latest.Load(); a != nil {
			return a, nil
		}
		return nil, notFound("no artifact published yet")
	}

	s.mu.RLock()
	a, ok := s.keyed[key]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	if s.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, s.cfg.MirrorTimeout)
		defer cancel()
		a, err := s.mirror.Get(mctx, key)
		if err == nil {
			return a, nil
		}
		if !types.IsCode(err, types.ErrNotFound) {
			s.logger.Warn("artifact mirror get failed", zap.String("fingerprint", key), zap.Error(err))
		}
	}
	return nil, notFound("artifact not found")
}

// Latest returns the latest artifact or nil.
func (s *Server) Latest() *Artifact {
	return s.latest.Load()
}

func notFound(msg string) *types.Error {
	return types.NewError(types.ErrNotFound, msg).WithStage(types.StageFetch)
}

// =============================================================================
// 📡 订阅
// =============================================================================

// Subscribe registers for publish events. Slow subscribers lose events rather
// than block publishers. Call cancel to unsubscribe.
func (s *Server) Subscribe() (events <-chan Event, cancel func()) {
	ch := make(chan Event, s.cfg.SubscriberBuffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Server) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats contains server counters.
type Stats struct {
	Keyed         int   `json:"keyed"`
	Subscribers   int   `json:"subscribers"`
	Published     int64 `json:"published"`
	DroppedEvents int64 `json:"dropped_events"`
	HasLatest     bool  `json:"has_latest"`
}

// Stats returns server counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	keyed := len(s.keyed)
	s.mu.RUnlock()
	s.subMu.Lock()
	subs := len(s.subs)
	s.subMu.Unlock()
	return Stats{
		Keyed:         keyed,
		Subscribers:   subs,
		Published:     s.published.Load(),
		DroppedEvents: s.dropped.Load(),
		HasLatest:     s.latest.Load() != nil,
	}
}
