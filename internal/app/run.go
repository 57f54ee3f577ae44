package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/plannerbridge/internal/bridge"
	"github.com/gaspardpetit/plannerbridge/internal/config"
	"github.com/gaspardpetit/plannerbridge/internal/logx"
	"github.com/gaspardpetit/plannerbridge/internal/mcpserver"
	"github.com/gaspardpetit/plannerbridge/internal/metrics"
	"github.com/gaspardpetit/plannerbridge/internal/reconnect"
	"github.com/gaspardpetit/plannerbridge/internal/secret"
	"github.com/gaspardpetit/plannerbridge/internal/sessionstate"
	"github.com/gaspardpetit/plannerbridge/internal/status"
	"github.com/gaspardpetit/plannerbridge/internal/tools"
)

// StateRefresh is how often the published state is refreshed between
// lifecycle events so pending counts stay current.
const StateRefresh = 5 * time.Second

// Run connects to the planning service and serves the tool catalogue over
// MCP until ctx ends or, for stdio, the host closes its end of the pipe.
func Run(ctx context.Context, cfg config.BridgeConfig, info status.VersionInfo, stdin io.Reader, stdout io.Writer) error {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.SetBuildInfo(info.Version, info.BuildSHA, info.BuildDate)

	client := NewClient(cfg, info.Version)
	defer func() { _ = client.Close() }()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	pub := sessionstate.NewPublisher(client, store)
	defer pub.Stop()
	go pub.Run(ctx, StateRefresh)

	var metricsHandler http.Handler
	if cfg.MetricsAddr != "" {
		if cfg.MetricsAddr == cfg.StatusAddr {
			metricsHandler = metrics.Handler(reg)
		} else {
			addr, err := metrics.StartMetricsServer(ctx, cfg.MetricsAddr, reg)
			if err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			logx.Log.Info().Str("addr", addr).Msg("metrics listening")
		}
	}
	if cfg.StatusAddr != "" {
		addr, err := status.StartStatusServer(ctx, cfg.StatusAddr, status.Options{
			Store:          store,
			Version:        info,
			APIKey:         cfg.APIKey,
			AllowedOrigins: cfg.AllowedOrigins,
			Metrics:        metricsHandler,
		})
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		logx.Log.Info().Str("addr", addr).Msg("status listening")
	}

	logx.Log.Info().
		Str("endpoint", cfg.URL).
		Str("api_key", secret.Mask(cfg.APIKey)).
		Str("client_type", cfg.ClientType).
		Str("client_id", cfg.ClientID).
		Bool("reconnect", cfg.Reconnect).
		Msg("connecting to planning service")
	if err := client.Connect(ctx); err != nil {
		if cfg.Reconnect {
			logx.Log.Warn().Err(err).Msg("initial connect failed; retrying in background")
		} else {
			logx.Log.Error().Err(err).Msg("initial connect failed; tools will report NOT_CONNECTED")
		}
	}

	d := tools.NewDispatcher(client, tools.Options{
		DefaultStreaming: cfg.DefaultStreaming,
		MaxTokens:        cfg.MaxTokens,
		WorkDir:          cfg.WorkDir,
		Timeout:          cfg.RequestTimeout,
	})
	srv, err := mcpserver.New(d, info.Version)
	if err != nil {
		return err
	}

	switch cfg.MCPTransport {
	case config.TransportHTTP:
		addr, err := mcpserver.ServeHTTP(ctx, srv, cfg.MCPHTTPAddr)
		if err != nil {
			return fmt.Errorf("mcp http: %w", err)
		}
		logx.Log.Info().Str("addr", addr).Str("path", mcpserver.Path).Msg("mcp listening")
		<-ctx.Done()
		return nil
	default:
		logx.Log.Info().Msg("serving mcp on stdio")
		return mcpserver.ServeStdio(ctx, srv, stdin, stdout)
	}
}

// NewClient builds a bridge client from cfg.
func NewClient(cfg config.BridgeConfig, version string) *bridge.Client {
	return bridge.New(bridge.Options{
		Session: bridge.SessionOptions{
			URL:           cfg.URL,
			APIKey:        cfg.APIKey,
			ClientType:    cfg.ClientType,
			ClientVersion: version,
			ClientID:      cfg.ClientID,
			PingInterval:  cfg.PingInterval,
			ReadLimit:     cfg.ReadLimit,
		},
		Reconnect: cfg.Reconnect,
		Backoff: reconnect.Backoff{
			Base:   cfg.ReconnectInterval,
			Factor: 2,
			Jitter: cfg.ReconnectJitter,
		},
		MaxAttempts: cfg.MaxReconnectAttempts,
	})
}

func openStore(cfg config.BridgeConfig) (sessionstate.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return sessionstate.NewMemoryStore(), func() {}, nil
	}
	rs, err := sessionstate.NewRedisStore(cfg.RedisAddr, cfg.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("state store: %w", err)
	}
	logx.Log.Info().Str("key", sessionstate.Key(cfg.ClientID)).Msg("publishing state to redis")
	return rs, func() { _ = rs.Close() }, nil
}
