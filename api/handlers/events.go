package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/internal/artifact"
)

// =============================================================================
// 📡 产物发布事件 Handler
// =============================================================================

// EventsHandler 通过 WebSocket 推送产物发布事件
type EventsHandler struct {
	artifacts      *artifact.Server
	originPatterns []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
	logger         *zap.Logger
}

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithOriginPatterns 设置允许的 Origin；包含 "*" 时不校验
func WithOriginPatterns(patterns []string) EventsOption {
	return func(h *EventsHandler) { h.originPatterns = patterns }
}

// WithPingInterval 设置保活间隔
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) { h.pingInterval = d }
}

// NewEventsHandler 创建事件处理器
func NewEventsHandler(artifacts *artifact.Server, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		artifacts:    artifacts,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		logger:       logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvents 升级为 WebSocket 并推送 artifact.published 事件
// @Summary 产物发布事件
// @Tags 模型
// @Success 101 {object} api.ArtifactEvent "WebSocket 文本帧"
// @Router /artifacts/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	for _, p := range h.originPatterns {
		if p == "*" {
			opts.InsecureSkipVerify = true
			break
		}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := h.artifacts.Subscribe()
	defer cancel()

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Debug("events subscriber connected", zap.String("remote", r.RemoteAddr))
	err = h.pump(ctx, conn, events)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "closing")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		// 客户端离开或服务关闭
	default:
		h.logger.Warn("events stream aborted", zap.Error(err))
		conn.Close(websocket.StatusInternalError, "write failed")
	}
}

func (h *EventsHandler) pump(ctx context.Context, conn *websocket.Conn, events <-chan artifact.Event) error {
	var ping <-chan time.Time
	if h.pingInterval > 0 {
		t := time.NewTicker(h.pingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.write(ctx, conn, ev); err != nil {
				return err
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, ev artifact.Event) error {
	data, err := json.Marshal(api.ArtifactEvent{
		Type:          ev.Type,
		Fingerprint:   ev.Fingerprint,
		TriangleCount: ev.TriangleCount,
		Size:          ev.Size,
		PublishedAt:   ev.PublishedAt,
	})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
