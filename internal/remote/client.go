// Package remote implementa el cliente HTTP contra la autoridad remota (el
// backend de la tienda, sistema de registro final).
//
// La frontera es deliberadamente opaca: un request/response por categoría de
// mutación y CRUD por tipo de entidad. El cliente distingue SIEMPRE entre
// error de transporte (error Go: red caída, timeout) y rechazo de aplicación
// (Result con Success=false): el procesador los rutea distinto.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

// Result es la respuesta de aplicación de la autoridad remota.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`

	// Retryable lo marca el cliente según el status HTTP: 5xx/429 son
	// transitorios, el resto de los rechazos son permanentes.
	Retryable bool `json:"-"`
}

// TokenProvider entrega la credencial vigente para el header Authorization.
// Puede retornar "" (request sin credencial; el server decidirá).
type TokenProvider func(ctx context.Context) string

// Config del cliente remoto.
type Config struct {
	BaseURL string

	// Timeout por request. Un remoto colgado se convierte en fallo
	// transitorio en vez de frenar el drain para siempre.
	Timeout time.Duration
}

// Client habla con la autoridad remota. Una instancia por terminal.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
	log     *zap.Logger
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.Named("remote"),
	}
}

// SetTokenProvider engancha la fuente de credenciales. Se setea después de
// construir porque session.Manager necesita a su vez este cliente para
// refrescar (el ciclo se corta acá).
func (c *Client) SetTokenProvider(tp TokenProvider) { c.tokens = tp }

// Apply despacha la operación remota de una categoría con su payload
// normalizado. error != nil es SOLO transporte; los rechazos vienen en Result.
func (c *Client) Apply(ctx context.Context, cat core.Category, payload map[string]any) (*Result, error) {
	return c.post(ctx, "/v1/transactions/"+string(cat), payload)
}

// FetchAll trae todas las entidades de un tipo.
func (c *Client) FetchAll(ctx context.Context, kind string) ([]map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/"+kind, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("remote: fetch %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: fetch %s: decode: %w", kind, err)
	}
	return out, nil
}

// CreateEntity crea una entidad por el camino directo (no encolado).
func (c *Client) CreateEntity(ctx context.Context, kind string, payload map[string]any) (*Result, error) {
	return c.post(ctx, "/v1/"+kind, payload)
}

// UpdateEntity actualiza la entidad completa.
func (c *Client) UpdateEntity(ctx context.Context, kind, id string, payload map[string]any) (*Result, error) {
	return c.send(ctx, http.MethodPut, "/v1/"+kind+"/"+id, payload)
}

// DeleteEntity borra la entidad.
func (c *Client) DeleteEntity(ctx context.Context, kind, id string) (*Result, error) {
	return c.send(ctx, http.MethodDelete, "/v1/"+kind+"/"+id, nil)
}

// RefreshSession canjea el refresh token. Implementa session.Refresher.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (string, string, error) {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("remote: refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("remote: refresh: status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("remote: refresh: decode: %w", err)
	}
	return out.AccessToken, out.RefreshToken, nil
}

// Reachable hace un probe barato de conectividad.
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (*Result, error) {
	return c.send(ctx, http.MethodPost, path, payload)
}

func (c *Client) send(ctx context.Context, method, path string, payload map[string]any) (*Result, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: encode payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transporte: el caller lo trata como fallo transitorio.
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		// Respuesta no-JSON (proxy caído, HTML de error): solo es señal
		// clara de rechazo si el status lo dice.
		res = Result{Success: resp.StatusCode < 300, Error: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode >= 300 {
		res.Success = false
		res.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		if res.Error == "" {
			res.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		c.log.Warn("remote rejected request",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Bool("retryable", res.Retryable))
	}
	return &res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if c.tokens != nil {
		if tok := c.tokens(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}
