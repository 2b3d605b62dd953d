package preferences

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monview/internal/domain"
	"monview/internal/repository/sqlite"
)

type fakeBackend struct {
	stored  map[string]domain.ViewPreference
	loads   int
	saves   []map[string]domain.ViewPreference
	loadErr error
	saveErr error
}

func (f *fakeBackend) LoadPreference(_ context.Context, id string) (domain.ViewPreference, bool, error) {
	f.loads++
	if f.loadErr != nil {
		return domain.ViewPreference{}, false, f.loadErr
	}
	p, ok := f.stored[id]
	return p, ok, nil
}

func (f *fakeBackend) SavePreferences(_ context.Context, entries map[string]domain.ViewPreference) error {
	f.saves = append(f.saves, entries)
	return f.saveErr
}

func TestEntryDefaultsAndCaches(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, nil)
	m := domain.NewMachine("m1", "web", "")

	e := s.Entry(m)
	assert.Equal(t, domain.DefaultTimeWindow, e.TimeWindow)
	assert.NotNil(t, e.Graphs)

	s.Entry(m)
	assert.Equal(t, 1, b.loads)
}

func TestEntryReturnsCopies(t *testing.T) {
	s := New(&fakeBackend{}, nil)
	m := domain.NewMachine("m1", "web", "")

	e := s.Entry(m)
	e.SetGraph("g", domain.GraphPreference{Index: 3})

	_, ok := s.Entry(m).Graph("g")
	assert.False(t, ok, "mutating a returned entry must not leak into the store")
}

func TestLoadFailureIsRetried(t *testing.T) {
	b := &fakeBackend{loadErr: errors.New("unreachable")}
	s := New(b, nil)
	m := domain.NewMachine("m1", "web", "")

	assert.Equal(t, domain.NewViewPreference(), s.Entry(m))
	b.loadErr = nil
	s.Entry(m)
	assert.Equal(t, 2, b.loads)
}

func TestSaveWritesOnlyDirtyEntries(t *testing.T) {
	b := &fakeBackend{stored: map[string]domain.ViewPreference{"m2": domain.NewViewPreference()}}
	s := New(b, nil)
	m1, m2 := domain.NewMachine("m1", "a", ""), domain.NewMachine("m2", "b", "")

	s.Entry(m2)
	e := s.Entry(m1)
	e.TimeWindow = "1h"
	s.SetEntry(m1, e)

	require.NoError(t, s.Save())
	require.Len(t, b.saves, 1)
	assert.Equal(t, []string{"m1"}, keys(b.saves[0]))
	assert.Equal(t, "1h", b.saves[0]["m1"].TimeWindow)

	require.NoError(t, s.Save())
	assert.Len(t, b.saves, 1, "nothing dirty")
}

func TestSaveFailureKeepsEntriesDirty(t *testing.T) {
	b := &fakeBackend{saveErr: errors.New("read only")}
	s := New(b, nil)
	m := domain.NewMachine("m1", "a", "")
	s.SetEntry(m, domain.NewViewPreference())

	assert.Error(t, s.Save())

	b.saveErr = nil
	require.NoError(t, s.Save())
	assert.Len(t, b.saves, 2)
}

func TestForgetReloads(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, nil)
	m := domain.NewMachine("m1", "a", "")
	s.Entry(m)

	s.Forget("m1")
	s.Entry(m)

	assert.Equal(t, 2, b.loads)
	assert.Len(t, s.Snapshot(), 1)
}

func TestStoreOverSQLite(t *testing.T) {
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	m := domain.NewMachine("m1", "a", "")
	s := New(repo, nil)
	e := s.Entry(m)
	e.TimeWindow = "1w"
	e.SetGraph("g", domain.GraphPreference{Index: 1, Hidden: true})
	s.SetEntry(m, e)
	require.NoError(t, s.Save())

	fresh := New(repo, nil)
	assert.Equal(t, e, fresh.Entry(m))
}

func keys(m map[string]domain.ViewPreference) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
