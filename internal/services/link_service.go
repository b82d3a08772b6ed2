package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/idna"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/ident"
	"github.com/tbourn/go-shortlink-backend/internal/observability"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

const (
	// MaxURLLen caps accepted target URLs in bytes.
	MaxURLLen = 2048

	defaultPageSize = 20
	maxPageSize     = 100

	// maxGeneratedCollisions bounds re-allocation when a generated code is
	// already taken by a custom id.
	maxGeneratedCollisions = 3
)

// LinkRepo is the part of store.Store that LinkService reads and writes.
type LinkRepo interface {
	store.LinkStore
	store.StateStore
	store.IndexStore
}

// Allocator yields unique sequence values for generated ids.
type Allocator interface {
	Next(ctx context.Context) (uint64, error)
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	URL       string
	CustomID  string
	ExpiresAt *time.Time
	Meta      RequestMeta
}

// Page is one slice of the ordered index.
type Page struct {
	Items      []domain.ShortLink
	NextCursor []byte // nil on the last page
}

// AdminLink joins a link with its state and last access.
type AdminLink struct {
	domain.ShortLink
	Enabled    bool
	DisabledAt *time.Time
	LastAccess *domain.LastAccess
}

// AdminPage is a Page enriched for operators.
type AdminPage struct {
	Items      []AdminLink
	NextCursor []byte
}

// LinkDetail is everything known about one link.
type LinkDetail struct {
	AdminLink
	CreateMeta *domain.CreateMeta
	CreateLogs []domain.CreateAuditEntry
	AccessLogs []domain.AccessAuditEntry
}

// LinkService coordinates creates, lookups, listing and state changes.
type LinkService struct {
	Repo      LinkRepo
	Allocator Allocator
	Codec     *ident.Codec
	Ledger    *Ledger

	// Bucket is the ordered-index partition; empty means store.DefaultBucket.
	Bucket string
	// RedirectStatus is recorded in the access log for successful resolves.
	RedirectStatus int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewLinkService wires a LinkService over one store.
func NewLinkService(s store.Store, codec *ident.Codec, ledger *Ledger) *LinkService {
	return &LinkService{
		Repo:           s,
		Allocator:      NewSequenceAllocator(s),
		Codec:          codec,
		Ledger:         ledger,
		Bucket:         store.DefaultBucket,
		RedirectStatus: http.StatusFound,
	}
}

func (s *LinkService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *LinkService) bucket() string {
	if s.Bucket == "" {
		return store.DefaultBucket
	}
	return s.Bucket
}

// Create stores a link for req.URL under req.CustomID or a generated id.
// created is false when the id already existed; the returned link is then the
// stored one, whatever URL this call asked for.
func (s *LinkService) Create(ctx context.Context, req CreateRequest) (link *domain.ShortLink, created bool, err error) {
	ctx, span := otel.Tracer("services/LinkService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.Bool("link.custom", req.CustomID != ""),
			attribute.String("request.id", req.Meta.RequestID),
		),
	)
	defer span.End()

	target, err := validateTargetURL(req.URL)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	var expires *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC().Truncate(time.Microsecond)
		if !t.After(now) {
			return nil, false, paramErr("expires_at", "must be in the future")
		}
		expires = &t
	}

	custom := strings.TrimSpace(req.CustomID) != ""
	var id string
	if custom {
		if id, err = ident.ParseCustomID(req.CustomID); err != nil {
			return nil, false, paramErr("custom_id", err.Error())
		}
	}

	for attempt := 0; ; attempt++ {
		if !custom {
			if id, err = s.generate(ctx); err != nil {
				return nil, false, err
			}
		}
		candidate := domain.ShortLink{ID: id, TargetURL: target, CreatedAt: now, ExpiresAt: expires}
		res, err := s.Repo.InsertLinkIfAbsent(ctx, candidate)
		if err != nil {
			return nil, false, storeErr("insert link", err)
		}

		switch r := res.(type) {
		case store.Applied:
			if err := s.fanOut(ctx, r.Link, req.Meta); err != nil {
				return nil, false, err
			}
			observability.LinksCreated.WithLabelValues("applied").Inc()
			s.Ledger.RecordCreate(ctx, candidate, req.Meta)
			span.SetAttributes(attribute.String("link.id", id), attribute.Bool("link.created", true))
			return &r.Link, true, nil

		case store.Conflict:
			ex := r.Existing
			if ex.ID == "" || ex.TargetURL == "" || ex.CreatedAt.IsZero() {
				return nil, false, storeErr("insert link",
					fmt.Errorf("conflict on %q without stored columns: %w", id, store.ErrProtocolViolation))
			}
			if !custom {
				// A custom id already claimed this code; draw another value.
				if attempt+1 < maxGeneratedCollisions {
					continue
				}
				return nil, false, storeErr("allocate id", fmt.Errorf("%w: generated id %q taken", ErrAllocationExhausted, id))
			}
			observability.LinksCreated.WithLabelValues("conflict").Inc()
			s.Ledger.RecordCreate(ctx, candidate, req.Meta)
			span.SetAttributes(attribute.String("link.id", id), attribute.Bool("link.created", false))
			return &ex, false, nil

		default:
			return nil, false, storeErr("insert link", fmt.Errorf("unexpected insert result %T: %w", res, store.ErrProtocolViolation))
		}
	}
}

func (s *LinkService) generate(ctx context.Context) (string, error) {
	seq, err := s.Allocator.Next(ctx)
	if err != nil {
		return "", storeErr("allocate id", err)
	}
	id, err := s.Codec.Generate(seq)
	if err != nil {
		return "", storeErr("encode id", err)
	}
	return id, nil
}

// fanOut writes the views owned by the winning create. State and index are
// required; creator metadata is best effort.
func (s *LinkService) fanOut(ctx context.Context, l domain.ShortLink, meta RequestMeta) error {
	st := domain.LinkState{ID: l.ID, Enabled: true, UpdatedAt: l.CreatedAt}
	if err := s.Repo.PutState(ctx, st); err != nil {
		return storeErr("put state", err)
	}
	if err := s.Repo.InsertIndexEntry(ctx, domain.IndexEntryFor(s.bucket(), l)); err != nil {
		return storeErr("insert index entry", err)
	}
	if _, err := s.Ledger.SaveCreateMetaIfAbsent(ctx, l.ID, l.CreatedAt, meta); err != nil {
		observability.LedgerFailures.WithLabelValues("create_meta").Inc()
		log.Warn().Err(err).Str("op", "create_meta").Str("link_id", l.ID).Msg("ledger write failed")
	}
	return nil
}

// FindByID canonicalizes rawID the way Create does and returns the stored
// link or ErrNotFound.
func (s *LinkService) FindByID(ctx context.Context, rawID string) (*domain.ShortLink, error) {
	id := ident.Canonical(rawID)
	if id == "" {
		return nil, ErrNotFound
	}
	l, err := s.Repo.GetLink(ctx, id)
	if err != nil {
		return nil, storeErr("get link", err)
	}
	if l == nil {
		return nil, ErrNotFound
	}
	return l, nil
}

// ListPage returns up to limit links, newest first, starting after cursor.
// limit <= 0 means 20 and anything above 100 is capped.
func (s *LinkService) ListPage(ctx context.Context, limit int, cursor []byte) (Page, error) {
	ctx, span := otel.Tracer("services/LinkService").Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("limit", limit), attribute.Bool("cursor", len(cursor) > 0)),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	rows, next, err := s.Repo.ScanIndexPage(ctx, s.bucket(), limit, cursor)
	if errors.Is(err, store.ErrInvalidCursor) {
		return Page{}, paramErr("cursor", "invalid cursor")
	}
	if err != nil {
		return Page{}, storeErr("scan index", err)
	}
	items := make([]domain.ShortLink, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.Link())
	}
	return Page{Items: items, NextCursor: next}, nil
}

// GetState returns the stored state row of id, or nil when none was written.
func (s *LinkService) GetState(ctx context.Context, rawID string) (*domain.LinkState, error) {
	st, err := s.Repo.GetState(ctx, ident.Canonical(rawID))
	return st, storeErr("get state", err)
}

// SetEnabled disables or restores an existing link.
func (s *LinkService) SetEnabled(ctx context.Context, rawID string, enabled bool) error {
	ctx, span := otel.Tracer("services/LinkService").Start(ctx, "SetEnabled",
		trace.WithAttributes(attribute.String("link.id", rawID), attribute.Bool("enabled", enabled)),
	)
	defer span.End()

	l, err := s.FindByID(ctx, rawID)
	if err != nil {
		return err
	}
	now := s.now()
	st := domain.LinkState{ID: l.ID, Enabled: enabled, UpdatedAt: now}
	if !enabled {
		st.DisabledAt = &now
	}
	return storeErr("put state", s.Repo.PutState(ctx, st))
}

// Resolve looks up rawID for a redirect. Disabled and expired links return
// the link together with ErrDisabled or ErrExpired. Every outcome for an
// existing link is recorded in the ledger.
func (s *LinkService) Resolve(ctx context.Context, rawID string, meta RequestMeta) (*domain.ShortLink, error) {
	ctx, span := otel.Tracer("services/LinkService").Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("link.id", rawID)),
	)
	defer span.End()

	l, err := s.FindByID(ctx, rawID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.Resolutions.WithLabelValues("not_found").Inc()
		} else {
			observability.Resolutions.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	st, err := s.Repo.GetState(ctx, l.ID)
	if err != nil {
		observability.Resolutions.WithLabelValues("error").Inc()
		return nil, storeErr("get state", err)
	}

	switch {
	case st != nil && !st.Enabled:
		observability.Resolutions.WithLabelValues("disabled").Inc()
		s.Ledger.RecordAccess(ctx, l.ID, http.StatusGone, meta)
		return l, ErrDisabled
	case l.Expired(s.now()):
		observability.Resolutions.WithLabelValues("expired").Inc()
		s.Ledger.RecordAccess(ctx, l.ID, http.StatusGone, meta)
		return l, ErrExpired
	}

	status := s.RedirectStatus
	if status == 0 {
		status = http.StatusFound
	}
	observability.Resolutions.WithLabelValues("redirect").Inc()
	s.Ledger.RecordAccess(ctx, l.ID, status, meta)
	return l, nil
}

// AdminList is ListPage joined with state and last access.
func (s *LinkService) AdminList(ctx context.Context, limit int, cursor []byte) (AdminPage, error) {
	page, err := s.ListPage(ctx, limit, cursor)
	if err != nil {
		return AdminPage{}, err
	}
	out := AdminPage{Items: make([]AdminLink, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, l := range page.Items {
		al, err := s.adminLink(ctx, l)
		if err != nil {
			return AdminPage{}, err
		}
		out.Items = append(out.Items, al)
	}
	return out, nil
}

// AdminDetail returns the link with its state, last access, creator
// metadata and up to logs recent create and access entries each.
func (s *LinkService) AdminDetail(ctx context.Context, rawID string, logs int) (*LinkDetail, error) {
	l, err := s.FindByID(ctx, rawID)
	if err != nil {
		return nil, err
	}
	al, err := s.adminLink(ctx, *l)
	if err != nil {
		return nil, err
	}
	meta, err := s.Ledger.GetCreateMeta(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	creates, err := s.Ledger.ListCreateLogsRecent(ctx, l.ID, logs)
	if err != nil {
		return nil, err
	}
	entries, err := s.Ledger.ListAccessLogsRecent(ctx, l.ID, logs)
	if err != nil {
		return nil, err
	}
	return &LinkDetail{AdminLink: al, CreateMeta: meta, CreateLogs: creates, AccessLogs: entries}, nil
}

func (s *LinkService) adminLink(ctx context.Context, l domain.ShortLink) (AdminLink, error) {
	st, err := s.Repo.GetState(ctx, l.ID)
	if err != nil {
		return AdminLink{}, storeErr("get state", err)
	}
	la, err := s.Ledger.GetLastAccess(ctx, l.ID)
	if err != nil {
		return AdminLink{}, err
	}
	al := AdminLink{ShortLink: l, Enabled: true, LastAccess: la}
	if st != nil {
		al.Enabled = st.Enabled
		al.DisabledAt = st.DisabledAt
	}
	return al, nil
}

// validateTargetURL accepts absolute http(s) URLs with a host and returns
// them with the host converted to its ASCII (punycode) form.
func validateTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", paramErr("url", "is required")
	}
	if len(raw) > MaxURLLen {
		return "", paramErr("url", fmt.Sprintf("exceeds %d bytes", MaxURLLen))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", paramErr("url", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", paramErr("url", "scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return "", paramErr("url", "host is required")
	}
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", paramErr("url", "invalid host")
		}
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(ascii, port)
		} else {
			u.Host = ascii
		}
	}
	out := u.String()
	if len(out) > MaxURLLen {
		return "", paramErr("url", fmt.Sprintf("exceeds %d bytes", MaxURLLen))
	}
	return out, nil
}
