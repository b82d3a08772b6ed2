package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/ident"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

func TestCreate_GeneratedID(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	l, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.GreaterOrEqual(t, len(l.ID), ident.MinLength)
	assert.Equal(t, l.ID, ident.Normalize(l.ID), "generated ids are normalization-invariant")
	for _, c := range l.ID {
		assert.Contains(t, ident.Alphabet(), string(c))
	}

	st, err := fx.svc.GetState(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Enabled)

	page, err := fx.svc.ListPage(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, l.ID, page.Items[0].ID)

	fx.drain(t)
	meta, err := fx.ledger.GetCreateMeta(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, meta)
}

func TestCreate_GeneratedIDsDistinct(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		l, created, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com/same"})
		require.NoError(t, err)
		require.True(t, created)
		require.False(t, seen[l.ID], "duplicate id %s", l.ID)
		seen[l.ID] = true
	}
}

func TestCreate_CustomIDConflictReturnsStoredRow(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	first, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://a.example", CustomID: "C00l"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, ident.Normalize("cool"), first.ID)

	fx.clock.Advance(time.Minute)
	second, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://b.example", CustomID: "cool"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.TargetURL, second.TargetURL)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	// Only the winner is indexed.
	page, err := fx.svc.ListPage(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "https://a.example", page.Items[0].TargetURL)

	// Both requests are audited.
	fx.drain(t)
	logs := createLogs(t, fx, first.ID)
	assert.Len(t, logs, 2)
}

func TestCreate_ConfusableCustomIDsResolveToSameLink(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	l, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://pizza.example", CustomID: "PiZ2a"})
	require.NoError(t, err)

	got, err := fx.svc.Resolve(ctx, "pizza", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
}

func TestCreate_FullWidthCustomIDFoundBySameInput(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	l, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://sale.example", CustomID: "ＳＡＬＥ"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "sALE", l.ID)

	for _, raw := range []string{"ＳＡＬＥ", " ＳＡＬＥ ", "SALE", "5ALE"} {
		got, err := fx.svc.FindByID(ctx, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, l.ID, got.ID, raw)

		got, err = fx.svc.Resolve(ctx, raw, RequestMeta{})
		require.NoError(t, err, raw)
		assert.Equal(t, "https://sale.example", got.TargetURL)
	}

	require.NoError(t, fx.svc.SetEnabled(ctx, "ＳＡＬＥ", false))
	st, err := fx.svc.GetState(ctx, "ＳＡＬＥ")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.Enabled)

	d, err := fx.svc.AdminDetail(ctx, "ＳＡＬＥ", 5)
	require.NoError(t, err)
	assert.Equal(t, l.ID, d.ID)
}

func TestCreate_FindByIDReturnsStoredValues(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()
	fx.clock.Advance(123456789 * time.Nanosecond)
	exp := fx.clock.Now().Add(48*time.Hour + 987654321*time.Nanosecond)

	l, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://bücher.example/pfad?q=1", CustomID: "Books", ExpiresAt: &exp})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "https://xn--bcher-kva.example/pfad?q=1", l.TargetURL)
	assert.True(t, l.CreatedAt.Equal(fx.clock.Now().Truncate(time.Microsecond)))
	require.NotNil(t, l.ExpiresAt)
	assert.True(t, l.ExpiresAt.Equal(exp.Truncate(time.Microsecond)))

	got, err := fx.svc.FindByID(ctx, ident.Normalize("Books"))
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, l.TargetURL, got.TargetURL)
	assert.True(t, l.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", l.CreatedAt, got.CreatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, l.ExpiresAt.Equal(*got.ExpiresAt), "expires_at %v != %v", *l.ExpiresAt, *got.ExpiresAt)
}

func TestCreate_GeneratedCollisionWithCustomIDReallocates(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	taken, err := fx.svc.Codec.Generate(1)
	require.NoError(t, err)
	_, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://custom.example", CustomID: taken})
	require.NoError(t, err)
	require.True(t, created)

	l, created, err := fx.svc.Create(ctx, CreateRequest{URL: "https://generated.example"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, taken, l.ID)
	assert.Equal(t, "https://generated.example", l.TargetURL)
}

func TestCreate_Validation(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	past := fx.clock.Now().Add(-time.Hour)

	cases := map[string]CreateRequest{
		"empty url":       {URL: "  "},
		"relative":        {URL: "/just/a/path"},
		"ftp":             {URL: "ftp://example.com/file"},
		"no host":         {URL: "https:///nohost"},
		"too long":        {URL: "https://example.com/" + strings.Repeat("a", MaxURLLen)},
		"bad custom":      {URL: "https://example.com", CustomID: "has space"},
		"reserved custom": {URL: "https://example.com", CustomID: "Admin"},
		"past expiry":     {URL: "https://example.com", ExpiresAt: &past},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := fx.svc.Create(context.Background(), req)
			var pe *ParamError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Field)
		})
	}
}

func TestValidateTargetURL_IDNAHost(t *testing.T) {
	got, err := validateTargetURL("https://bücher.example:8443/pfad?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://xn--bcher-kva.example:8443/pfad?q=1", got)

	got, err = validateTargetURL("http://127.0.0.1:8080/x")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/x", got)
}

func TestCreate_StateFailureIsStoreError(t *testing.T) {
	f := &faultyStore{Store: newTestStore(t), putStateErr: errBoom}
	fx := newFixture(t, f)

	_, _, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "put state", se.Op)
	assert.ErrorIs(t, err, errBoom)
}

func TestCreate_IndexFailureIsStoreError(t *testing.T) {
	f := &faultyStore{Store: newTestStore(t), indexErr: errBoom}
	fx := newFixture(t, f)

	_, _, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert index entry", se.Op)
}

func TestCreate_MetaFailureDoesNotFailCreate(t *testing.T) {
	f := &faultyStore{Store: newTestStore(t), metaErr: errBoom}
	fx := newFixture(t, f)

	_, created, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreate_ConflictMissingColumnsIsProtocolViolation(t *testing.T) {
	f := &faultyStore{Store: newTestStore(t), conflict: &domain.ShortLink{ID: "abc"}}
	fx := newFixture(t, f)

	_, _, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com", CustomID: "abc"})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCreate_AllocationExhausted(t *testing.T) {
	f := &faultyStore{Store: newTestStore(t)}
	f.casLosses.Store(100)
	fx := newFixture(t, f)
	fx.svc.Allocator = &SequenceAllocator{Store: f, Name: store.SequenceName, Policy: fastPolicy()}

	_, _, err := fx.svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestListPage_WalksNewestFirst(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		l, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://example.com/" + string(rune('a'+i))})
		require.NoError(t, err)
		want = append([]string{l.ID}, want...)
		fx.clock.Advance(time.Second)
	}

	var got []string
	var cursor []byte
	pages := 0
	for {
		p, err := fx.svc.ListPage(ctx, 2, cursor)
		require.NoError(t, err)
		pages++
		for _, l := range p.Items {
			got = append(got, l.ID)
		}
		if p.NextCursor == nil {
			break
		}
		cursor = p.NextCursor
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestListPage_ClampsAndRejectsBadCursor(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()

	p, err := fx.svc.ListPage(ctx, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Nil(t, p.NextCursor)

	_, err = fx.svc.ListPage(ctx, 1000, []byte("garbage"))
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "cursor", pe.Field)
}

func TestFindByID_NotFound(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	_, err := fx.svc.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fx.svc.FindByID(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetEnabled_And_Resolve(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()
	l, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://example.com"})
	require.NoError(t, err)

	require.NoError(t, fx.svc.SetEnabled(ctx, l.ID, false))
	st, err := fx.svc.GetState(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	require.NotNil(t, st.DisabledAt)

	got, err := fx.svc.Resolve(ctx, l.ID, RequestMeta{IP: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrDisabled)
	require.NotNil(t, got)
	fx.drain(t)

	require.NoError(t, fx.svc.SetEnabled(ctx, l.ID, true))
	st, err = fx.svc.GetState(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Nil(t, st.DisabledAt)

	_, err = fx.svc.Resolve(ctx, l.ID, RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)

	fx.drain(t)
	la, err := fx.ledger.GetLastAccess(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, la)
	assert.Equal(t, http.StatusFound, la.LastStatusCode)

	logs, err := fx.ledger.ListAccessLogsRecent(ctx, l.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	codes := []int{logs[0].StatusCode, logs[1].StatusCode}
	assert.ElementsMatch(t, []int{http.StatusFound, http.StatusGone}, codes)

	assert.ErrorIs(t, fx.svc.SetEnabled(ctx, "nope", false), ErrNotFound)
}

func TestResolve_ExpiredAndUnknown(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()
	exp := fx.clock.Now().Add(time.Hour)
	l, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://example.com", ExpiresAt: &exp})
	require.NoError(t, err)

	_, err = fx.svc.Resolve(ctx, l.ID, RequestMeta{})
	require.NoError(t, err)

	fx.drain(t)
	fx.clock.Advance(2 * time.Hour)
	_, err = fx.svc.Resolve(ctx, l.ID, RequestMeta{})
	assert.ErrorIs(t, err, ErrExpired)

	_, err = fx.svc.Resolve(ctx, "unknown", RequestMeta{})
	assert.ErrorIs(t, err, ErrNotFound)

	fx.drain(t)
	la, err := fx.ledger.GetLastAccess(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, la, "unknown ids record nothing")
}

func TestAdminListAndDetail(t *testing.T) {
	fx := newFixture(t, newTestStore(t))
	ctx := context.Background()
	a, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://a.example", Meta: RequestMeta{IP: "1.2.3.4", RequestID: "req-1"}})
	require.NoError(t, err)
	fx.clock.Advance(time.Second)
	b, _, err := fx.svc.Create(ctx, CreateRequest{URL: "https://b.example"})
	require.NoError(t, err)

	require.NoError(t, fx.svc.SetEnabled(ctx, a.ID, false))
	_, err = fx.svc.Resolve(ctx, b.ID, RequestMeta{})
	require.NoError(t, err)
	fx.drain(t)

	page, err := fx.svc.AdminList(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, b.ID, page.Items[0].ID)
	assert.True(t, page.Items[0].Enabled)
	require.NotNil(t, page.Items[0].LastAccess)
	assert.False(t, page.Items[1].Enabled)
	assert.NotNil(t, page.Items[1].DisabledAt)
	assert.Nil(t, page.Items[1].LastAccess)

	d, err := fx.svc.AdminDetail(ctx, a.ID, 10)
	require.NoError(t, err)
	require.NotNil(t, d.CreateMeta)
	assert.Equal(t, "req-1", d.CreateMeta.RequestID)
	assert.Equal(t, "1.2.3.4", d.CreateMeta.IP)
	require.Len(t, d.CreateLogs, 1)
	assert.Equal(t, "req-1", d.CreateLogs[0].RequestID)
	assert.Equal(t, "https://a.example", d.CreateLogs[0].TargetURL)
	assert.Empty(t, d.AccessLogs)

	_, err = fx.svc.AdminDetail(ctx, "nope", 10)
	assert.True(t, errors.Is(err, ErrNotFound))
}
