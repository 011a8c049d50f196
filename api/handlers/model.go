package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/internal/artifact"
	"github.com/BaSui01/cadflow/pipeline"
	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/types"
)

// PingMessage 是 /ping 的固定响应
const PingMessage = "Text-to-CAD backend running!"

// =============================================================================
// 🧊 模型生成与产物 Handler
// =============================================================================

// ModelHandler 模型接口处理器
type ModelHandler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// NewModelHandler 创建模型处理器
func NewModelHandler(p *pipeline.Pipeline, logger *zap.Logger) *ModelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandler{
		pipeline: p,
		logger:   logger.With(zap.String("handler", "model")),
	}
}

// Register 在 mux 上注册全部模型路由
func (h *ModelHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", h.HandlePing)
	mux.HandleFunc("POST /generate-models", h.HandleGenerateModels)
	mux.HandleFunc("POST /generate", h.HandleLegacyGenerate)
	mux.HandleFunc("POST /convert", h.HandleConvert)
	mux.HandleFunc("GET /render-model", h.HandleRenderModel)
}

// HandlePing 处理存活探测
// @Summary 存活探测
// @Tags 模型
// @Produce json
// @Success 200 {object} api.PingResponse
// @Router /ping [get]
func (h *ModelHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.PingResponse{Message: PingMessage})
}

// HandleGenerateModels 处理自由文本生成请求
// @Summary 文本生成模型
// @Description 生成 CAD 脚本；配置了几何内核时同时转换并发布网格
// @Tags 模型
// @Accept json
// @Produce json
// @Param request body api.GenerateModelsRequest true "生成请求"
// @Success 200 {object} api.GenerateModelsResponse
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "协作服务失败"
// @Failure 504 {object} Response "超时"
// @Router /generate-models [post]
func (h *ModelHandler) HandleGenerateModels(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.GenerateModelsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	preq := script.PromptRequest{Text: req.Prompt}
	if err := preq.Validate(); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	res, err := h.pipeline.Run(r.Context(), preq)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	resp := api.GenerateModelsResponse{
		Script:      res.Script.Source,
		Fingerprint: res.Script.Fingerprint,
		Language:    string(h.pipeline.Language()),
	}
	if res.Artifact != nil {
		resp.Artifact = artifactInfo(res.Artifact)
	}
	WriteSuccess(w, resp)
}

// HandleLegacyGenerate 处理旧版参数化请求，只返回脚本
// @Summary 参数化生成（旧版）
// @Tags 模型
// @Accept json
// @Produce json
// @Param request body api.LegacyGenerateRequest true "尺寸与圆角"
// @Success 200 {object} api.LegacyGenerateResponse
// @Failure 502 {object} Response "协作服务失败"
// @Router /generate [post]
func (h *ModelHandler) HandleLegacyGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.LegacyGenerateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	preq := script.PromptRequest{
		Text:     script.ParametricPrompt(h.pipeline.Language(), string(req.Size), string(req.Fillet)),
		Rendered: true,
	}
	s, err := h.pipeline.Generate(r.Context(), preq)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.LegacyGenerateResponse{Script: s.Source})
}

// HandleConvert 直接转换脚本并返回 STL
// @Summary 脚本转网格
// @Tags 模型
// @Accept json
// @Produce model/stl
// @Param request body api.ConvertRequest true "脚本"
// @Success 200 {file} binary "二进制 STL"
// @Failure 502 {object} Response "转换失败"
// @Failure 504 {object} Response "超时"
// @Router /convert [post]
func (h *ModelHandler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ConvertRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "code is required"), h.logger)
		return
	}

	a, err := h.pipeline.ConvertAndPublish(r.Context(), req.Code)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	h.writeSTL(w, a, "no-store")
}

// HandleRenderModel 返回最新或指定指纹的网格
// @Summary 获取网格
// @Tags 模型
// @Produce model/stl
// @Param key query string false "产物指纹，缺省为最新"
// @Success 200 {file} binary "二进制 STL"
// @Failure 404 {object} Response "未找到"
// @Router /render-model [get]
func (h *ModelHandler) HandleRenderModel(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	a, err := h.pipeline.Artifacts().Fetch(r.Context(), key)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	etag := `"` + a.Fingerprint + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)

	// 指纹地址的内容不会变，latest 每次发布都会变
	cacheControl := "no-cache"
	if key != "" && key != artifact.LatestKey {
		cacheControl = "public, max-age=31536000, immutable"
	}
	h.writeSTL(w, a, cacheControl)
}

func (h *ModelHandler) writeSTL(w http.ResponseWriter, a *artifact.Artifact, cacheControl string) {
	header := w.Header()
	header.Set("Content-Type", a.ContentType)
	header.Set("Content-Length", strconv.Itoa(a.Size()))
	header.Set("Cache-Control", cacheControl)
	header.Set(api.HeaderFingerprint, a.Fingerprint)
	header.Set(api.HeaderTriangleCount, strconv.FormatUint(uint64(a.TriangleCount), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Bytes); err != nil {
		h.logger.Debug("stl write aborted", zap.String("fingerprint", a.Fingerprint), zap.Error(err))
	}
}

func artifactInfo(a *artifact.Artifact) *api.ArtifactInfo {
	return &api.ArtifactInfo{
		Fingerprint:   a.Fingerprint,
		TriangleCount: a.TriangleCount,
		Size:          a.Size(),
		ContentType:   a.ContentType,
		CreatedAt:     a.CreatedAt,
	}
}
