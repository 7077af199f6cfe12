package service

import (
	"context"
	"errors"
	"sync"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/chatsev/realtime/internal/config"
	"github.com/chatsev/realtime/internal/unread"
	"github.com/chatsev/realtime/pkg/constant"
	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/fetchcache"
	"github.com/mbeoliero/kit/log"
)

var errSessionClosed = errors.New("unread session closed while opening")

// UnreadListener receives counter changes of a session
type UnreadListener func(kind string, count int64)

// Session is the live unread state of one viewer, shared by every
// connection of that viewer
type Session struct {
	ViewerId string
	counters map[string]*unread.Counter

	refs    int
	cancel  context.CancelFunc
	release []changefeed.Unsubscribe

	// closed once the counters are attached; err is set if that failed
	ready chan struct{}
	err   error

	mu        sync.RWMutex
	listeners map[int]UnreadListener
	nextId    int
}

// Counter returns the counter of kind
func (s *Session) Counter(kind string) (*unread.Counter, bool) {
	c, ok := s.counters[kind]
	return c, ok
}

// Counts returns the current count of every kind
func (s *Session) Counts() map[string]int64 {
	out := make(map[string]int64, len(s.counters))
	for kind, c := range s.counters {
		out[kind] = c.Count()
	}
	return out
}

// Visible triggers reconciliation of every counter
func (s *Session) Visible() {
	for _, c := range s.counters {
		c.Visible()
	}
}

// Listen registers fn for count changes until the returned func is called
func (s *Session) Listen(fn UnreadListener) func() {
	s.mu.Lock()
	id := s.nextId
	s.nextId++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) opened() bool {
	select {
	case <-s.ready:
		return s.err == nil
	default:
		return false
	}
}

func (s *Session) emit(kind string, n int64) {
	s.mu.RLock()
	fns := make([]UnreadListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(kind, n)
	}
}

// UnreadService owns the viewer sessions and answers unread queries
type UnreadService struct {
	feed    *changefeed.Feed
	sources map[string]unread.Source

	optsMu sync.RWMutex
	opts   unread.Options

	// serves viewers without a live session
	oneShot *fetchcache.Cache[int64]

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewUnreadService creates a new UnreadService
func NewUnreadService(feed *changefeed.Feed, cfg config.UnreadConfig, sources ...unread.Source) *UnreadService {
	s := &UnreadService{
		feed:     feed,
		sources:  make(map[string]unread.Source, len(sources)),
		opts:     optionsFromConfig(cfg),
		oneShot:  fetchcache.New[int64](),
		sessions: make(map[string]*Session),
	}
	for _, src := range sources {
		s.sources[src.Kind()] = src
	}
	return s
}

func optionsFromConfig(cfg config.UnreadConfig) unread.Options {
	return unread.Options{
		RecountMinInterval: cfg.RecountMinInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
		FetchTimeout:       cfg.FetchTimeout,
	}
}

// Reconfigure applies new intervals to sessions opened from now on
func (s *UnreadService) Reconfigure(cfg config.UnreadConfig) {
	s.optsMu.Lock()
	s.opts = optionsFromConfig(cfg)
	s.optsMu.Unlock()
}

func (s *UnreadService) options() unread.Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.opts
}

// Acquire returns the viewer's session, opening it on first use. Every
// successful Acquire must be paired with a Release. Feed subscriptions are
// opened outside the service lock; concurrent callers for the same viewer
// wait for the first one.
func (s *UnreadService) Acquire(ctx context.Context, viewerId string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[viewerId]; ok {
		sess.refs++
		s.mu.Unlock()
		<-sess.ready
		if sess.err != nil {
			return nil, sess.err
		}
		return sess, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ViewerId:  viewerId,
		counters:  make(map[string]*unread.Counter, len(s.sources)),
		cancel:    cancel,
		listeners: make(map[int]UnreadListener),
		refs:      1,
		ready:     make(chan struct{}),
	}
	s.sessions[viewerId] = sess
	s.mu.Unlock()

	err := s.attach(runCtx, sess)

	s.mu.Lock()
	if err == nil && s.sessions[viewerId] != sess {
		err = errcode.ErrInternalServer.Wrap(errSessionClosed)
	}
	if err != nil {
		if s.sessions[viewerId] == sess {
			delete(s.sessions, viewerId)
		}
		s.mu.Unlock()
		for _, r := range sess.release {
			r()
		}
		cancel()
		sess.err = err
		close(sess.ready)
		log.CtxError(ctx, "open unread session failed: viewer_id=%s, error=%v", viewerId, err)
		return nil, err
	}
	// ready is closed under the lock so Release and Close see the session as opened
	close(sess.ready)
	count := len(s.sessions)
	s.mu.Unlock()

	for _, counter := range sess.counters {
		go counter.Run(runCtx)
		go func(c *unread.Counter) {
			_, _ = c.FullRecount(runCtx, false)
		}(counter)
	}

	log.CtxInfo(ctx, "unread session opened: viewer_id=%s, sessions=%d", viewerId, count)
	return sess, nil
}

// attach builds the counters of sess and subscribes them to the feed
func (s *UnreadService) attach(ctx context.Context, sess *Session) error {
	opts := s.options()
	for kind, src := range s.sources {
		counter := unread.NewCounter(sess.ViewerId, src, opts)
		kind := kind
		counter.OnChange(func(n int64) { sess.emit(kind, n) })

		release, err := counter.Attach(ctx, s.feed)
		if err != nil {
			log.CtxWarn(ctx, "attach unread counter failed: viewer_id=%s, kind=%s, error=%v", sess.ViewerId, kind, err)
			return errcode.ErrInternalServer.Wrap(err)
		}
		sess.release = append(sess.release, release)
		sess.counters[kind] = counter
	}
	return nil
}

// Release drops one reference; the last one closes the session
func (s *UnreadService) Release(viewerId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[viewerId]
	if !ok || !sess.opened() {
		return
	}
	sess.refs--
	if sess.refs > 0 {
		return
	}

	delete(s.sessions, viewerId)
	for _, r := range sess.release {
		r()
	}
	sess.cancel()
	log.Info("unread session closed: viewer_id=%s, sessions=%d", viewerId, len(s.sessions))
}

// Session returns the live session of a viewer
func (s *UnreadService) Session(viewerId string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[viewerId]
	if !ok || !sess.opened() {
		return nil, false
	}
	return sess, ok
}

// SessionCount returns the number of live sessions
func (s *UnreadService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// GetUnread returns the viewer's unread count of kind. A live session answers
// from its counter; otherwise a debounced recount is issued.
func (s *UnreadService) GetUnread(ctx context.Context, viewerId, kind string, force bool) (int64, error) {
	src, ok := s.sources[kind]
	if !ok {
		return 0, errcode.ErrUnknownUnreadKind
	}

	if sess, ok := s.Session(viewerId); ok {
		counter, _ := sess.Counter(kind)
		if !force && counter.Loaded() {
			return counter.Count(), nil
		}
		n, err := counter.FullRecount(ctx, force)
		if err != nil && !counter.Loaded() {
			return 0, errcode.ErrRecountFailed.Wrap(err)
		}
		return n, nil
	}

	opts := s.options()
	n, err := s.oneShot.GetOrFetch(ctx, kind+":"+viewerId, func(ctx context.Context) (int64, error) {
		return src.Recount(ctx, viewerId)
	}, fetchcache.Options{MinInterval: opts.RecountMinInterval, Force: force, Timeout: opts.FetchTimeout})
	if err != nil {
		log.CtxWarn(ctx, "unread recount failed: viewer_id=%s, kind=%s, error=%v", viewerId, kind, err)
		if stale, _, ok := s.oneShot.Peek(kind + ":" + viewerId); ok {
			return stale, nil
		}
		return 0, errcode.ErrRecountFailed.Wrap(err)
	}
	return n, nil
}

// Kinds returns the configured counter kinds
func (s *UnreadService) Kinds() []string {
	kinds := make([]string, 0, len(s.sources))
	for _, k := range []string{constant.UnreadKindDirect, constant.UnreadKindMessenger} {
		if _, ok := s.sources[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Close releases every session
func (s *UnreadService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		delete(s.sessions, id)
		// a session still opening is torn down by its opener
		if !sess.opened() {
			continue
		}
		for _, r := range sess.release {
			r()
		}
		sess.cancel()
	}
}
