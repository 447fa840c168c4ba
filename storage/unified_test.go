package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingBackend blockiert jeden Aufruf, bis release geschlossen wird, und ignoriert ctx.
type hangingBackend struct {
	release chan struct{}
}

func (h *hangingBackend) Get(context.Context, string) ([]byte, bool, error) {
	<-h.release
	return nil, false, nil
}

func (h *hangingBackend) Set(context.Context, string, []byte) error {
	<-h.release
	return nil
}

func (h *hangingBackend) Remove(context.Context, string) error {
	<-h.release
	return nil
}

func (h *hangingBackend) Keys(context.Context) ([]string, error) {
	<-h.release
	return nil, nil
}

func newTestUnified(t *testing.T, shared Backend) (*Unified, *MemoryBackend) {
	t.Helper()
	local := NewMemoryBackend()
	return NewUnified(local, shared, time.Second, nil), local
}

func TestUnified_WriteMirroredReachesBothScopes(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryBackend()
	u, local := newTestUnified(t, shared)

	require.NoError(t, u.WriteMirrored(ctx, KeySelectedScholarID, []byte(`"abc"`)))

	v, ok, err := local.Get(ctx, KeySelectedScholarID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, string(v))

	v, ok, err = shared.Get(ctx, KeySelectedScholarID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, string(v))

	require.NoError(t, u.RemoveMirrored(ctx, KeySelectedScholarID))
	_, ok, _ = shared.Get(ctx, KeySelectedScholarID)
	assert.False(t, ok)
}

func TestUnified_SharedUnavailable(t *testing.T) {
	ctx := context.Background()
	u, local := newTestUnified(t, nil)

	assert.False(t, u.SharedAvailable())
	require.NoError(t, u.WriteMirrored(ctx, "k", []byte("1")), "mirrored write succeeds locally")

	_, ok, _ := local.Get(ctx, "k")
	assert.True(t, ok)

	err := u.Write(ctx, ScopeShared, "k", []byte("1"))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = u.Read(ctx, ScopeShared, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, u.RemoveMirrored(ctx, "k"))
}

func TestUnified_SharedCallsAreBoundedByStepTimeout(t *testing.T) {
	hang := &hangingBackend{release: make(chan struct{})}
	defer close(hang.release)
	u := NewUnified(NewMemoryBackend(), hang, 50*time.Millisecond, nil)

	start := time.Now()
	err := u.WriteMirrored(context.Background(), "k", []byte("1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnified_ValidateConsistency(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryBackend()
	u, local := newTestUnified(t, shared)

	// gleiche Daten, andere Schlüsselreihenfolge und Unicode-Form
	require.NoError(t, local.Set(ctx, "same", []byte("{\"a\":1,\"name\":\"Jos\u00e9\"}")))
	require.NoError(t, shared.Set(ctx, "same", []byte("{\"name\":\"Jose\u0301\", \"a\":1}")))

	require.NoError(t, local.Set(ctx, "diff", []byte(`{"a":1}`)))
	require.NoError(t, shared.Set(ctx, "diff", []byte(`{"a":2}`)))

	require.NoError(t, local.Set(ctx, "localOnly", []byte(`1`)))

	report := u.ValidateConsistency(ctx, []string{"same", "diff", "localOnly", "absent"})
	assert.Equal(t, map[string]bool{
		"same":      true,
		"diff":      false,
		"localOnly": false,
		"absent":    true,
	}, report)
}

func TestUnified_ValidateConsistencyWithoutSharedScope(t *testing.T) {
	ctx := context.Background()
	u, local := newTestUnified(t, nil)
	require.NoError(t, local.Set(ctx, "k", []byte(`1`)))

	report := u.ValidateConsistency(ctx, []string{"k", "absent"})
	assert.Empty(t, report)
}

func TestUnified_ValidateConsistencySkipsUnavailableBackend(t *testing.T) {
	ctx := context.Background()
	u, local := newTestUnified(t, unavailableBackend{})
	require.NoError(t, local.Set(ctx, "k", []byte(`1`)))

	report := u.ValidateConsistency(ctx, []string{"k", "absent"})
	assert.Empty(t, report)
}

// unavailableBackend meldet bei jedem Aufruf ErrUnavailable.
type unavailableBackend struct{}

func (unavailableBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ErrUnavailable
}
func (unavailableBackend) Set(context.Context, string, []byte) error { return ErrUnavailable }
func (unavailableBackend) Remove(context.Context, string) error      { return ErrUnavailable }
func (unavailableBackend) Keys(context.Context) ([]string, error)    { return nil, ErrUnavailable }

func TestUnified_JSONRoundTripIsCanonical(t *testing.T) {
	ctx := context.Background()
	u, local := newTestUnified(t, nil)

	require.NoError(t, u.WriteJSON(ctx, ScopeLocal, "k", map[string]any{"b": 1, "a": "<x>"}))
	raw, _, _ := local.Get(ctx, "k")
	assert.Equal(t, `{"a":"<x>","b":1}`, string(raw))

	var out map[string]any
	ok, err := u.ReadJSON(ctx, ScopeLocal, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<x>", out["a"])

	ok, err = u.ReadJSON(ctx, ScopeLocal, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadFirst_FallsBackAndSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryBackend()
	u, local := newTestUnified(t, shared)

	require.NoError(t, local.Set(ctx, "list", []byte(`not json`)))
	require.NoError(t, shared.Set(ctx, "list", []byte(`["a","b"]`)))

	got, scope, ok := ReadFirst[[]string](ctx, u, Source{Key: "list", Chain: LocalThenShared})
	require.True(t, ok)
	assert.Equal(t, ScopeShared, scope)
	assert.Equal(t, []string{"a", "b"}, got)

	_, _, ok = ReadFirst[[]string](ctx, u, Source{Key: "missing", Chain: LocalThenShared})
	assert.False(t, ok)
}

func TestReadFirst_UnavailableSharedCountsAsAbsent(t *testing.T) {
	ctx := context.Background()
	u, local := newTestUnified(t, nil)
	require.NoError(t, local.Set(ctx, "n", []byte(`3`)))

	got, scope, ok := ReadFirst[int](ctx, u, Source{Key: "n", Chain: SharedThenLocal})
	require.True(t, ok)
	assert.Equal(t, ScopeLocal, scope)
	assert.Equal(t, 3, got)
}

func TestCanonicalize_InvalidJSONIsUnchanged(t *testing.T) {
	assert.Equal(t, "plain text", string(Canonicalize([]byte("plain text"))))
	assert.True(t, Equivalent([]byte(`{"x": [1, 2]}`), []byte(`{"x":[1,2]}`)))
}

func TestUnified_SyncMirroredSkipsEquivalentContent(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryBackend()
	u, local := newTestUnified(t, shared)

	changed, err := u.SyncJSONMirrored(ctx, "k", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.True(t, changed)

	// gleicher Inhalt, andere Schreibweise
	require.NoError(t, shared.Set(ctx, "k", []byte(`{ "a" : 1 }`)))
	changed, err = u.SyncMirrored(ctx, "k", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.False(t, changed)
	raw, _, _ := shared.Get(ctx, "k")
	assert.Equal(t, `{ "a" : 1 }`, string(raw), "equivalent shared value is left untouched")

	require.NoError(t, shared.Set(ctx, "k", []byte(`{"a":2}`)))
	changed, err = u.SyncMirrored(ctx, "k", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, changed)
	raw, _, _ = local.Get(ctx, "k")
	assert.Equal(t, `{"a":1}`, string(raw))
}

func TestUnified_SyncMirroredWithoutSharedScope(t *testing.T) {
	u, _ := newTestUnified(t, nil)
	changed, err := u.SyncMirrored(context.Background(), "k", []byte(`1`))
	require.NoError(t, err)
	assert.True(t, changed)
}
