// 程序入口：探针进程；按环境变量装配会话管理、查询编排与收藏缓存，执行一次脚本化搜索并输出快照
package main

import (
	"ask4rent/internal/backend"
	"ask4rent/internal/config"
	"ask4rent/internal/favorites"
	"ask4rent/internal/geo"
	"ask4rent/internal/logger"
	"ask4rent/internal/metrics"
	"ask4rent/internal/region"
	"ask4rent/internal/search"
	"ask4rent/internal/session"
	"ask4rent/internal/store"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_backend", "base", cfg.Backend.BaseURL, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closer, err := store.Open(ctx, cfg.Store.Backend, cfg.Session.TTL())
	if err != nil {
		l.Error("store_open_error", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	// 背景：配置了 GeoIP 库时以设备所在城市作为默认视口，失败回退到配置的默认区域
	view := cfg.Map.DefaultView()
	if v, err := region.FromGeoIP(cfg.GeoIP.DBPath, cfg.GeoIP.DeviceIP, view); err != nil {
		l.Warn("region_geoip_fallback", "err", err)
	} else {
		view = v
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics_listen_error", "err", err)
			}
		}()
		defer srv.Close()
		l.Info("metrics_listen", "addr", cfg.Metrics.Addr)
	}

	be := backend.New(backend.Options{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout(),
		UserAgent: cfg.Places.UserAgent,
	})
	places := backend.NewPlaces(backend.PlacesOptions{
		BaseURL:      cfg.Places.BaseURL,
		Limit:        cfg.Places.Limit,
		CountryCodes: cfg.Places.CountryCodes,
		UserAgent:    cfg.Places.UserAgent,
		CacheSize:    cfg.Places.CacheSize,
		CacheTTL:     time.Duration(cfg.Places.CacheTTLSec) * time.Second,
		RatePerSec:   cfg.Places.RatePerSec,
		Timeout:      cfg.Backend.Timeout(),
	})

	sessions := session.NewManager(session.NewStore(kv, nil, cfg.Session.TTL()), be, session.Options{
		TTL:           cfg.Session.TTL(),
		RenewDebounce: cfg.Session.RenewDebounce(),
		SweepInterval: cfg.Session.SweepInterval(),
		ClearOnClose:  cfg.Session.ClearOnExit,
	})
	sessions.Start(ctx)
	defer sessions.Close()
	defer sessions.Subscribe(be.OnSessionEvent)()

	favs := favorites.New(be, sessions, nil)
	defer favs.Close()

	orch := search.New(be, sessions, search.Options{
		Calculator:       geo.NewCalculator(view),
		FallbackRadiusKm: cfg.Map.FallbackRadiusKm,
		Places:           places,
	})
	defer orch.Close()

	if _, err := sessions.EnsureSession(ctx); err != nil {
		l.Error("session_init_error", "err", err)
		os.Exit(1)
	}

	snap := runScript(ctx, orch, sessions)
	out := struct {
		search.Snapshot
		Favorites int `json:"favorites"`
	}{Snapshot: snap, Favorites: len(favs.List())}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		l.Error("snapshot_encode_error", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" && os.Getenv("METRICS_HOLD") == "true" {
		l.Info("metrics_hold")
		<-ctx.Done()
	}
}

// runScript：按 SEARCH_MODE 执行一次搜索
// 约束：query 模式取命令行参数或 QUERY；commute 模式取 COMMUTE_PLACE 与 COMMUTE_MINUTES；zones 模式可选 ZONE_TA 继续进入行政区
func runScript(ctx context.Context, orch *search.Orchestrator, sessions *session.Manager) search.Snapshot {
	l := logger.L()
	sessions.Touch(session.ActivityClick)
	switch strings.ToLower(os.Getenv("SEARCH_MODE")) {
	case "zones":
		snap := orch.ShowZones(ctx)
		name := strings.TrimSpace(os.Getenv("ZONE_TA"))
		if name == "" {
			return snap
		}
		for _, ta := range snap.TerritorialAuthorities {
			if strings.EqualFold(ta.Name, name) {
				return orch.SelectTA(ctx, ta)
			}
		}
		l.Warn("script_ta_not_found", "name", name)
		return snap
	case "commute":
		orch.ShowCommute(ctx)
		found, err := orch.SearchPlaces(ctx, os.Getenv("COMMUTE_PLACE"))
		if err != nil || len(found) == 0 {
			l.Warn("script_place_not_found", "err", err)
			return orch.Snapshot()
		}
		orch.SelectPlace(ctx, found[0])
		minutes, _ := strconv.Atoi(os.Getenv("COMMUTE_MINUTES"))
		return orch.SubmitCommute(ctx, minutes)
	}
	q := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if q == "" {
		q = os.Getenv("QUERY")
	}
	if q == "" {
		return orch.Snapshot()
	}
	return orch.SubmitQuery(ctx, q)
}
