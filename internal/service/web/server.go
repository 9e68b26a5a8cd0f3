package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
)

// --- DIAGNOSTIC HELPER: A listener that logs accepted connections ---
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf(" [WebServer DIAGNOSTIC] Connection accepted from: %s ", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 pass 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// NewMux 注册所有路由。除 /api/status 与 /ws 外，其余 API 都受 Basic Auth 保护。
func NewMux(handler *Handler, hub *Hub, webUser, webPassword string) *http.ServeMux {
	mux := http.NewServeMux()
	protect := func(path string, fn http.HandlerFunc) {
		mux.Handle(path, basicAuthMiddleware(fn, webUser, webPassword))
	}

	protect("/api/sources", handler.HandleSources)
	protect("/api/harvest", handler.HandleHarvest)
	protect("/api/workset", handler.HandleWorkSet)
	protect("/api/workset/import", handler.HandleImport)
	protect("/api/workset/export", handler.HandleExport)
	protect("/api/workset/locate", handler.HandleLocateWorkSet)
	protect("/api/verify", handler.HandleVerify)
	protect("/api/verify/stop", handler.HandleStopVerify)
	protect("/api/proxies", handler.HandleProxies)
	protect("/api/store", handler.HandleStore)
	protect("/api/store/compact", handler.HandleCompact)
	protect("/api/inspect", handler.HandleInspect)
	protect("/api/locate", handler.HandleLocate)

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)
	return mux
}

// StartServer 在 web.port 上启动 HTTP 服务。端口为 0 时不启动，返回 nil。
func StartServer(wg *sync.WaitGroup, cfg *types.Config, handler *Handler, hub *Hub) (*http.Server, error) {
	if cfg.WebConf.Port <= 0 {
		logger.Info().Msg("[WebServer] Web API is disabled (web port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start web API on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           NewMux(handler, hub, cfg.WebConf.User, cfg.WebConf.Password),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Msgf("SUCCESS: Web API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Wrap the original listener with our logging listener
		if err := srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return srv, nil
}

// Shutdown 优雅关闭服务，srv 为 nil 时什么也不做。
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
