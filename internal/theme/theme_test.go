package theme

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

type recordingApplier struct{ applied []Name }

func (r *recordingApplier) ApplyTheme(t Theme) { r.applied = append(r.applied, t.Name) }

func TestLookup(t *testing.T) {
	th, err := Lookup("  Light ")
	require.NoError(t, err)
	assert.Equal(t, Light, th.Name)
	assert.Equal(t, "#f5f0e8", th.Palette.Background)

	_, err = Lookup("solarized")
	assert.ErrorIs(t, err, ErrUnknownTheme)
}

func TestService_CurrentDefaults(t *testing.T) {
	ctx := context.Background()

	svc := NewService(&memSettings{}, zerolog.Nop())
	assert.Equal(t, Dark, svc.Current(ctx).Name)

	svc = NewService(&memSettings{values: map[string]string{SettingKey: "neon"}}, zerolog.Nop())
	assert.Equal(t, Dark, svc.Current(ctx).Name)

	svc = NewService(&memSettings{err: errors.New("disk I/O error")}, zerolog.Nop())
	assert.Equal(t, Dark, svc.Current(ctx).Name)
}

func TestService_ApplyPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	settings := &memSettings{}
	svc := NewService(settings, zerolog.Nop())

	a := &recordingApplier{}
	svc.Register(ctx, a)
	assert.Equal(t, []Name{Dark}, a.applied, "register applies the current theme")

	th, err := svc.Apply(ctx, "LIGHT")
	require.NoError(t, err)
	assert.Equal(t, Light, th.Name)
	assert.Equal(t, "light", settings.values[SettingKey])
	assert.Equal(t, []Name{Dark, Light}, a.applied)
	assert.Equal(t, Light, svc.Current(ctx).Name)
}

func TestService_ApplyRejectsUnknown(t *testing.T) {
	ctx := context.Background()
	settings := &memSettings{}
	svc := NewService(settings, zerolog.Nop())
	a := &recordingApplier{}
	svc.Register(ctx, a)

	_, err := svc.Apply(ctx, "sepia")
	assert.ErrorIs(t, err, ErrUnknownTheme)
	assert.Empty(t, settings.values)
	assert.Len(t, a.applied, 1)
}

func TestService_ApplyPersistFailure(t *testing.T) {
	svc := NewService(&memSettings{err: errors.New("readonly database")}, zerolog.Nop())
	_, err := svc.Apply(context.Background(), "light")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownTheme)
}
