package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tpvsync/internal/config"
	"github.com/dropDatabas3/tpvsync/internal/events"
	httpx "github.com/dropDatabas3/tpvsync/internal/http"
	"github.com/dropDatabas3/tpvsync/internal/metrics"
	"github.com/dropDatabas3/tpvsync/internal/observability/logger"
	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/remote"
	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/session"
	"github.com/dropDatabas3/tpvsync/internal/store"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
	"github.com/dropDatabas3/tpvsync/internal/syncer"

	"go.uber.org/zap"
)

var version = "dev"

// ─────────────── cliente para subcomandos de operación ───────────────

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		baseURL = envOr("TPVSYNC_URL", "http://localhost:8090")
		out     = envOr("TPVSYNC_OUT", "text")
		cfgPath = envOr("TPVSYNC_CONFIG", "config.yaml")
	)

	root := &cobra.Command{
		Use:   "tpvsync",
		Short: "Núcleo de sincronización offline-first para terminales TPV",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base de la API operacional (env TPVSYNC_URL)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, OutFormat: out, HTTP: &http.Client{Timeout: 30 * time.Second}}

	// ─── serve ───
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Arranca el daemon de sincronización y la API operacional",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}
	serveCmd.Flags().StringVar(&cfgPath, "config", cfgPath, "Ruta del config.yaml (env TPVSYNC_CONFIG)")

	// ─── queue ───
	queueCmd := &cobra.Command{Use: "queue", Short: "Estado de la cola de mutaciones"}

	sizeCmd := &cobra.Command{
		Use:   "size",
		Short: "Cantidad y listado de mutaciones pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/queue", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("queue size falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// ─── queue dead-letter ───
	dlqCmd := &cobra.Command{Use: "dead-letter", Short: "Gestión de mutaciones en dead-letter"}

	dlqListCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar entradas dead-letter",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/queue/dead-letter/", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("dead-letter list falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	dlqRetryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Devolver una entrada dead-letter a la cola (retry_count en 0)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/queue/dead-letter/"+args[0]+"/retry", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("dead-letter retry falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	dlqDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Descartar definitivamente una entrada dead-letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("DELETE", "/v1/queue/dead-letter/"+args[0], nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("dead-letter delete falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// ─── queue corrupted ───
	corruptedCmd := &cobra.Command{Use: "corrupted", Short: "Mutaciones apartadas por drift de schema"}

	corruptedListCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar entradas corruptas",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/queue/corrupted/", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("corrupted list falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// ─── sync ───
	syncCmd := &cobra.Command{Use: "sync", Short: "Control del procesador de sincronización"}

	kickCmd := &cobra.Command{
		Use:   "kick",
		Short: "Disparar un ciclo de drain inmediato",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/sync/kick", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("kick falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Estado del procesador y tamaño de la cola",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/sync/status", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("status falló: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}

	// wiring
	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd, dlqDeleteCmd)
	corruptedCmd.AddCommand(corruptedListCmd)
	queueCmd.AddCommand(sizeCmd, dlqCmd, corruptedCmd)
	syncCmd.AddCommand(kickCmd, statusCmd)
	root.AddCommand(serveCmd, queueCmd, syncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// serve arma todo el grafo: store → gateway → cola → cliente remoto →
// sesiones → procesador → API operacional.
func serve(cfgPath string) error {
	var cfg *config.Config
	if fileExists(cfgPath) {
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       envOr("LOG_LEVEL", "info"),
		ServiceName: "tpvsync",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	dal, err := store.Open(store.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.SQLite.Path,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer dal.Close()

	bus := events.NewBus()

	gw := schema.NewGateway(func(cat core.Category, missing, obsolete []string) {
		bus.Publish(events.TopicSchemaDrift, map[string]any{
			"category": string(cat),
			"missing":  missing,
			"obsolete": obsolete,
		})
	})

	q := queue.New(dal.Queue(), gw,
		queue.WithCapacity(cfg.Sync.QueueCapacity),
		queue.WithSimulated(cfg.Sync.Simulated),
	)

	authority := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: config.Dur(cfg.Remote.Timeout, 15*time.Second),
	})
	sessions := session.NewManager(dal.Sessions(), authority,
		session.WithExpirySkew(config.Dur(cfg.Session.ExpirySkew, 30*time.Second)),
	)
	authority.SetTokenProvider(func(ctx context.Context) string {
		s, err := sessions.Current(ctx)
		if err != nil {
			return ""
		}
		return s.AccessToken
	})

	proc := syncer.New(q, gw, authority, sessions, bus,
		syncer.WithRetryMax(cfg.Sync.RetryMax),
		syncer.WithApplyTimeout(config.Dur(cfg.Sync.ApplyTimeout, 20*time.Second)),
	)

	router, err := httpx.NewRouter(httpx.Deps{
		Queue:     q,
		DLQ:       dal.DeadLetters(),
		Corrupted: dal.Corrupted(),
		Syncer:    proc,
	})
	if err != nil {
		return err
	}
	srv := httpx.NewServer(cfg.Server.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		err := proc.Run(ctx, config.Dur(cfg.Sync.DrainInterval, 30*time.Second))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync processor stopped", zap.Error(err))
			return
		}
		log.Info("sync processor stopped")
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("tpvsync listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("queue_capacity", cfg.Sync.QueueCapacity))

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
