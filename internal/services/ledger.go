package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/observability"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

const (
	defaultAuditLogs  = 50
	maxAuditLogs      = 500
	defaultLedgerWait = 5 * time.Second
)

// RequestMeta describes the HTTP request behind a create or redirect.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// Ledger writes the best-effort records around a link: audit trails,
// creator metadata and last access. The Record* methods run detached from
// the request and only log failures; the Log* variants return them.
type Ledger struct {
	Store   store.LedgerStore
	TTL     time.Duration // lifetime of audit rows and create meta
	Timeout time.Duration // bound on each detached write
	Now     func() time.Time

	wg sync.WaitGroup
}

// NewLedger returns a Ledger with the default TTL and timeout.
func NewLedger(s store.LedgerStore) *Ledger {
	return &Ledger{Store: s, TTL: store.DefaultAuditTTL, Timeout: defaultLedgerWait}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) ttl() time.Duration {
	if l.TTL > 0 {
		return l.TTL
	}
	return store.DefaultAuditTTL
}

// LogCreate appends a create audit entry for link.
func (l *Ledger) LogCreate(ctx context.Context, link domain.ShortLink, meta RequestMeta) error {
	e := domain.CreateAuditEntry{
		LinkID:    link.ID,
		Timestamp: l.now(),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		TargetURL: link.TargetURL,
		RequestID: meta.RequestID,
	}
	return storeErr("append create log", l.Store.AppendCreateLog(ctx, e, l.ttl()))
}

// LogAccess stores the last access of id and appends an access audit entry.
// Both writes are attempted; their errors are joined.
func (l *Ledger) LogAccess(ctx context.Context, id string, status int, meta RequestMeta) error {
	now := l.now()
	lastErr := l.SetLastAccess(ctx, id, now, status)
	e := domain.AccessAuditEntry{
		LinkID:     id,
		Timestamp:  now,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		RequestID:  meta.RequestID,
		StatusCode: status,
	}
	logErr := storeErr("append access log", l.Store.AppendAccessLog(ctx, e, l.ttl()))
	return errors.Join(lastErr, logErr)
}

// RecordCreate runs LogCreate in the background.
func (l *Ledger) RecordCreate(ctx context.Context, link domain.ShortLink, meta RequestMeta) {
	l.detach(ctx, "create_log", link.ID, func(ctx context.Context) error {
		return l.LogCreate(ctx, link, meta)
	})
}

// RecordAccess runs LogAccess in the background.
func (l *Ledger) RecordAccess(ctx context.Context, id string, status int, meta RequestMeta) {
	l.detach(ctx, "access_log", id, func(ctx context.Context) error {
		return l.LogAccess(ctx, id, status, meta)
	})
}

// detach keeps trace values from ctx but not its cancellation.
func (l *Ledger) detach(ctx context.Context, op, id string, fn func(context.Context) error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultLedgerWait
	}
	bg := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(bg, timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			observability.LedgerFailures.WithLabelValues(op).Inc()
			log.Warn().Err(err).Str("op", op).Str("link_id", id).Msg("ledger write failed")
		}
	}()
}

// Wait blocks until every background write finished or ctx ends.
func (l *Ledger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveCreateMetaIfAbsent stores the creator metadata unless a live record
// exists. It reports whether this call wrote it.
func (l *Ledger) SaveCreateMetaIfAbsent(ctx context.Context, id string, createdAt time.Time, meta RequestMeta) (bool, error) {
	m := domain.CreateMeta{
		ID:        id,
		CreatedAt: createdAt,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
	}
	ok, err := l.Store.InsertCreateMetaIfAbsent(ctx, m, l.ttl())
	return ok, storeErr("insert create meta", err)
}

// GetCreateMeta returns nil when no live record exists.
func (l *Ledger) GetCreateMeta(ctx context.Context, id string) (*domain.CreateMeta, error) {
	m, err := l.Store.GetCreateMeta(ctx, id, l.now())
	return m, storeErr("get create meta", err)
}

// SetLastAccess overwrites the last-access record of id.
func (l *Ledger) SetLastAccess(ctx context.Context, id string, at time.Time, status int) error {
	return storeErr("put last access", l.Store.PutLastAccess(ctx, domain.LastAccess{
		ID:             id,
		LastAccessAt:   at,
		LastStatusCode: status,
	}))
}

// GetLastAccess returns nil for links never resolved.
func (l *Ledger) GetLastAccess(ctx context.Context, id string) (*domain.LastAccess, error) {
	la, err := l.Store.GetLastAccess(ctx, id)
	return la, storeErr("get last access", err)
}

// ListAccessLogsRecent returns up to limit unexpired access entries, newest
// first. limit <= 0 means 50; anything above 500 is capped.
func (l *Ledger) ListAccessLogsRecent(ctx context.Context, id string, limit int) ([]domain.AccessAuditEntry, error) {
	ctx, span := otel.Tracer("services/Ledger").Start(ctx, "ListAccessLogsRecent",
		trace.WithAttributes(attribute.String("link.id", id), attribute.Int("limit", limit)),
	)
	defer span.End()

	logs, err := l.Store.ListAccessLogs(ctx, id, auditLimit(limit), l.now())
	if err != nil {
		return nil, storeErr("list access logs", err)
	}
	return logs, nil
}

// ListCreateLogsRecent returns up to limit unexpired create entries for id,
// newest first, including requests that lost to an earlier create. limit
// follows ListAccessLogsRecent.
func (l *Ledger) ListCreateLogsRecent(ctx context.Context, id string, limit int) ([]domain.CreateAuditEntry, error) {
	ctx, span := otel.Tracer("services/Ledger").Start(ctx, "ListCreateLogsRecent",
		trace.WithAttributes(attribute.String("link.id", id), attribute.Int("limit", limit)),
	)
	defer span.End()

	logs, err := l.Store.ListCreateLogs(ctx, id, auditLimit(limit), l.now())
	if err != nil {
		return nil, storeErr("list create logs", err)
	}
	return logs, nil
}

func auditLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLogs
	case limit > maxAuditLogs:
		return maxAuditLogs
	}
	return limit
}
