// Package session maneja la sesión de la terminal contra la autoridad remota.
//
// La terminal no verifica firmas: solo inspecciona el exp del access token
// (ParseUnverified) para saber si hace falta refrescar. La verificación real
// la hace el servidor en cada request.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// ErrNoSession indica que no hay sesión utilizable (ni actual ni refrescable).
var ErrNoSession = errors.New("session: no usable session")

// Session es la sesión vigente. AccessToken es la credencial que viaja en
// cada llamada a la autoridad remota.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Refresher canjea un refresh token por tokens nuevos en la autoridad
// remota. Lo implementa internal/remote.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// Manager resuelve la sesión actual, la refresca cuando expira y persiste
// la evidencia de autenticación en el store local.
type Manager struct {
	store     core.SessionStore
	refresher Refresher
	skew      time.Duration
	log       *zap.Logger
}

// Option configura el manager.
type Option func(*Manager)

// WithExpirySkew cambia el margen con el que un token se considera expirado
// antes de su exp real (default 30s). Un token que muere a mitad de un drain
// es peor que refrescar de más.
func WithExpirySkew(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.skew = d
		}
	}
}

func NewManager(store core.SessionStore, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		skew:      30 * time.Second,
		log:       logger.Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current retorna la sesión vigente si el access token todavía no expiró.
// Retorna ErrNoSession si no hay sesión persistida o si ya expiró (en ese
// caso el caller decide si intenta Refresh).
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	exp, ok := tokenExpiry(rec.AccessToken)
	if !ok || time.Now().Add(m.skew).After(exp) {
		return nil, ErrNoSession
	}
	return &Session{AccessToken: rec.AccessToken, ExpiresAt: exp}, nil
}

// Refresh intenta exactamente un refresh contra la autoridad remota y
// persiste los tokens nuevos. Sin refresh token persistido retorna
// ErrNoSession sin tocar la red.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	rec, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if rec.RefreshToken == "" {
		return nil, ErrNoSession
	}

	access, refresh, err := m.refresher.RefreshSession(ctx, rec.RefreshToken)
	if err != nil {
		m.log.Warn("session refresh failed", logger.Err(err))
		return nil, fmt.Errorf("session: refresh: %w", err)
	}
	if err := m.store.Save(ctx, core.SessionRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		ObtainedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}

	exp, _ := tokenExpiry(access)
	m.log.Info("session refreshed", zap.Time("expires_at", exp))
	return &Session{AccessToken: access, ExpiresAt: exp}, nil
}

// HasAuthEvidence reporta si alguna vez hubo una sesión persistida. Un
// usuario que nunca se autenticó no debe generar ruido de "auth required".
func (m *Manager) HasAuthEvidence(ctx context.Context) bool {
	_, err := m.store.Load(ctx)
	return err == nil
}

// Save persiste una sesión obtenida por el flujo de login (fuera de este
// subsistema) para que el procesador pueda usarla.
func (m *Manager) Save(ctx context.Context, access, refresh string) error {
	return m.store.Save(ctx, core.SessionRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		ObtainedAt:   time.Now().UTC(),
	})
}

// tokenExpiry extrae el claim exp sin verificar la firma.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parser := jwtv5.NewParser()
	claims := jwtv5.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
