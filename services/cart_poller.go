package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
)

// DefaultTablePollInterval is how often table browsers see other diners'
// cart changes. Staleness is bounded by this interval.
const DefaultTablePollInterval = 5 * time.Second

// CartPuller is the read side of SessionCartSync.
type CartPuller interface {
	Pull(ctx context.Context, sessionKey, clientID string) (*models.CartSession, error)
}

// CartPoller pulls one session on an interval and reports version changes.
type CartPoller struct {
	Puller     CartPuller
	SessionKey string
	ClientID   string
	Interval   time.Duration
	OnChange   func(models.CartSession)
	StopChan   chan struct{}

	log         logrus.FieldLogger
	lastVersion int64
	seen        bool
	stopOnce    sync.Once
}

func NewCartPoller(puller CartPuller, sessionKey, clientID string, interval time.Duration, onChange func(models.CartSession), log logrus.FieldLogger) *CartPoller {
	if interval <= 0 {
		interval = DefaultTablePollInterval
	}
	return &CartPoller{
		Puller:     puller,
		SessionKey: sessionKey,
		ClientID:   clientID,
		Interval:   interval,
		OnChange:   onChange,
		StopChan:   make(chan struct{}),
		log:        log,
	}
}

func (cp *CartPoller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cp.Interval)
		defer ticker.Stop()

		cp.check(ctx)
		for {
			select {
			case <-ticker.C:
				cp.check(ctx)
			case <-cp.StopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (cp *CartPoller) Stop() {
	cp.stopOnce.Do(func() { close(cp.StopChan) })
}

func (cp *CartPoller) check(ctx context.Context) {
	session, err := cp.Puller.Pull(ctx, cp.SessionKey, cp.ClientID)
	if err != nil {
		cp.log.WithError(err).WithField("session_key", cp.SessionKey).Warn("cart poll failed")
		return
	}
	if cp.seen && session.Version == cp.lastVersion {
		return
	}
	cp.seen = true
	cp.lastVersion = session.Version
	if cp.OnChange != nil {
		cp.OnChange(*session)
	}
}

// PollerGroup runs one CartPoller per session while at least one subscriber
// is watching it.
type PollerGroup struct {
	puller   CartPuller
	interval time.Duration
	onChange func(models.CartSession)
	log      logrus.FieldLogger

	mu      sync.Mutex
	pollers map[string]*groupEntry
}

type groupEntry struct {
	poller *CartPoller
	refs   int
}

func NewPollerGroup(puller CartPuller, interval time.Duration, onChange func(models.CartSession), log logrus.FieldLogger) *PollerGroup {
	return &PollerGroup{
		puller:   puller,
		interval: interval,
		onChange: onChange,
		log:      log,
		pollers:  make(map[string]*groupEntry),
	}
}

// Acquire starts polling sessionKey if nobody was watching it yet.
func (g *PollerGroup) Acquire(ctx context.Context, sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.pollers[sessionKey]; ok {
		e.refs++
		return
	}
	// Pulls anonymously: the poller is not a diner and must not hold the
	// session open or mark versions as seen.
	p := NewCartPoller(g.puller, sessionKey, "", g.interval, g.onChange, g.log)
	g.pollers[sessionKey] = &groupEntry{poller: p, refs: 1}
	p.Start(context.WithoutCancel(ctx))
}

// Release stops the poller once its last subscriber is gone.
func (g *PollerGroup) Release(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pollers[sessionKey]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		e.poller.Stop()
		delete(g.pollers, sessionKey)
	}
}

func (g *PollerGroup) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pollers)
}

func (g *PollerGroup) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, e := range g.pollers {
		e.poller.Stop()
		delete(g.pollers, key)
	}
}
