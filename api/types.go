package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// 📨 请求头
// =============================================================================

const (
	// HeaderFingerprint 返回网格对应脚本的指纹
	HeaderFingerprint = "X-Mesh-Fingerprint"
	// HeaderTriangleCount 返回网格的三角面数量
	HeaderTriangleCount = "X-Triangle-Count"
	// HeaderRequestID 请求追踪 ID
	HeaderRequestID = "X-Request-ID"
)

// =============================================================================
// 🧾 脚本生成
// =============================================================================

// GenerateModelsRequest 自由文本生成请求
type GenerateModelsRequest struct {
	// 模型描述，例如 "a 20mm cube"
	Prompt string `json:"prompt" example:"a 20mm cube"`
}

// GenerateModelsResponse 生成结果；配置了内核时包含已发布的产物信息
type GenerateModelsResponse struct {
	Script      string        `json:"script"`
	Fingerprint string        `json:"fingerprint"`
	Language    string        `json:"language,omitempty"`
	Artifact    *ArtifactInfo `json:"artifact,omitempty"`
}

// LegacyGenerateRequest 兼容旧版的参数化圆角立方体请求
type LegacyGenerateRequest struct {
	Size   FlexString `json:"size"`
	Fillet FlexString `json:"fillet"`
}

// LegacyGenerateResponse 旧版生成结果
type LegacyGenerateResponse struct {
	Script string `json:"script"`
}

// FlexString 接受 JSON 字符串或数字，旧版客户端两种都会发送
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// =============================================================================
// 🧊 网格转换与产物
// =============================================================================

// ConvertRequest 直接提交脚本转换
type ConvertRequest struct {
	Code string `json:"code"`
}

// ArtifactInfo 产物元数据（不含网格字节）
type ArtifactInfo struct {
	Fingerprint   string    `json:"fingerprint"`
	TriangleCount uint32    `json:"triangle_count"`
	Size          int       `json:"size"`
	ContentType   string    `json:"content_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// ArtifactEvent 通过 /artifacts/events 推送的发布事件
type ArtifactEvent struct {
	Type          string    `json:"type"`
	Fingerprint   string    `json:"fingerprint"`
	TriangleCount uint32    `json:"triangle_count"`
	Size          int       `json:"size"`
	PublishedAt   time.Time `json:"published_at"`
}

// =============================================================================
// 🩺 其他
// =============================================================================

// PingResponse 存活探测
type PingResponse struct {
	Message string `json:"message"`
}

// Envelope 与 handlers.Response 相同的线上格式，供客户端解码
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *EnvelopeError  `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// EnvelopeError 错误信息
type EnvelopeError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
