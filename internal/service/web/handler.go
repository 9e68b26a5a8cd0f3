package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"proxyharvest/internal/shared/logger"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/ingest"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/scraper"
	"proxyharvest/proxypool/storage"
	"proxyharvest/proxypool/validator"
	"proxyharvest/proxypool/workset"
)

// maxImportBytes 限制导入请求体大小
const maxImportBytes = 8 << 20

// PipelineController defines what the web handler needs from the pipeline context.
// This decouples the web package from the manager implementation.
type PipelineController interface {
	Status(ctx context.Context) manager.Status
	Sources() *scraper.Registry
	WorkSet() *workset.Set
	Store() *storage.Store
	Validator() *validator.Validator
	Harvest(ctx context.Context, selector string, kind model.Kind) (<-chan events.Event, error)
	ImportLines(r io.Reader, defaultKind model.Kind) (int, []ingest.LineError, error)
	Export(w io.Writer, kind model.Kind) (int, error)
	VerifyWorkingSet(ctx context.Context, opts validator.Options) (<-chan events.Event, error)
	VerifyStore(ctx context.Context, opts validator.Options) (<-chan events.Event, error)
	StopVerify() bool
	LocateWorkingSet(ctx context.Context) (<-chan events.Event, error)
}

type Handler struct {
	ctx                context.Context // 后台任务的生命周期
	controller         PipelineController
	hub                *Hub
	defaultConcurrency int
}

func NewHandler(ctx context.Context, controller PipelineController, hub *Hub, defaultConcurrency int) *Handler {
	return &Handler{
		ctx:                ctx,
		controller:         controller,
		hub:                hub,
		defaultConcurrency: defaultConcurrency,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForError 将流水线错误映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, manager.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, scraper.ErrUnknownSource), errors.Is(err, model.ErrInvalidKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseKindParam 解析可选的 kind 参数，空值表示全部。
func parseKindParam(s string) (model.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return model.ParseKind(s)
}

// HandleStatus 处理 GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Status(r.Context()))
}

// HandleSources 处理 GET /api/sources
func (h *Handler) HandleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := append([]string{scraper.AllSources}, h.controller.Sources().Names()...)
	writeJSON(w, http.StatusOK, names)
}

type harvestRequest struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
}

// HandleHarvest 处理 POST /api/harvest，抓取在后台进行，事件通过 /ws 推送。
func (h *Handler) HandleHarvest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req harvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = scraper.AllSources
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := h.controller.Harvest(h.ctx, req.Source, kind)
	if err != nil {
		http.Error(w, "Failed to start harvest: "+err.Error(), statusForError(err))
		return
	}
	go h.hub.Relay(ch)

	logger.Info().Str("source", req.Source).Str("kind", string(kind)).Msg("Harvest started from web API.")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleWorkSet 处理 GET/DELETE /api/workset
func (h *Handler) HandleWorkSet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		kind, err := parseKindParam(r.URL.Query().Get("kind"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		entries := make([]workset.Entry, 0)
		for _, e := range h.controller.WorkSet().Snapshot() {
			if kind == "" || e.Kind == kind {
				entries = append(entries, e)
			}
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		h.controller.WorkSet().Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type lineErrorJSON struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// HandleImport 处理 POST /api/workset/import?kind=socks5，请求体为纯文本列表。
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind := model.KindHTTP
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := model.ParseKind(k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = parsed
	}

	added, lineErrs, err := h.controller.ImportLines(http.MaxBytesReader(w, r.Body, maxImportBytes), kind)
	errs := make([]lineErrorJSON, 0, len(lineErrs))
	for _, le := range lineErrs {
		errs = append(errs, lineErrorJSON{Line: le.Line, Text: le.Text, Error: le.Err.Error()})
	}
	if err != nil {
		// 出错前解析到的条目已经合并，照常报告
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"added": added, "errors": errs, "error": "Failed to read proxy list: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added, "errors": errs})
}

// HandleExport 处理 GET /api/workset/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind, err := parseKindParam(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="proxies.txt"`)
	if _, err := h.controller.Export(w, kind); err != nil {
		logger.Warn().Err(err).Msg("Failed to export working set.")
	}
}

type verifyRequest struct {
	Target      string `json:"target"` // workset | store
	Kind        string `json:"kind"`
	Concurrency int    `json:"concurrency"`
}

// HandleVerify 处理 POST /api/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	kind, err := parseKindParam(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := validator.Options{Concurrency: req.Concurrency, Kind: kind}
	if opts.Concurrency <= 0 {
		opts.Concurrency = h.defaultConcurrency
	}

	var ch <-chan events.Event
	switch req.Target {
	case "", "workset":
		ch, err = h.controller.VerifyWorkingSet(h.ctx, opts)
	case "store":
		ch, err = h.controller.VerifyStore(h.ctx, opts)
	default:
		http.Error(w, "Unknown verify target: "+req.Target, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Failed to start verification: "+err.Error(), statusForError(err))
		return
	}
	go h.hub.Relay(ch)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStopVerify 处理 POST /api/verify/stop
func (h *Handler) HandleStopVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.controller.StopVerify()})
}

// HandleLocateWorkSet 处理 POST /api/workset/locate，查询在后台进行，进度通过 /ws 推送。
func (h *Handler) HandleLocateWorkSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ch, err := h.controller.LocateWorkingSet(h.ctx)
	if err != nil {
		http.Error(w, "Failed to start location lookup: "+err.Error(), statusForError(err))
		return
	}
	go h.hub.Relay(ch)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleProxies 处理 GET /api/proxies?kind=http&all=1
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var (
		rows []model.StoredProxy
		err  error
	)
	if q.Get("all") == "1" || q.Get("all") == "true" {
		rows, err = h.controller.Store().ListAll(r.Context())
	} else {
		kind, kerr := parseKindParam(q.Get("kind"))
		if kerr != nil {
			http.Error(w, kerr.Error(), http.StatusBadRequest)
			return
		}
		rows, err = h.controller.Store().ListValid(r.Context(), kind)
	}
	if err != nil {
		http.Error(w, "Failed to list proxies: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.StoredProxy{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleCompact 处理 POST /api/store/compact
func (h *Handler) HandleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	removed, err := h.controller.Store().Compact(r.Context())
	if err != nil {
		http.Error(w, "Failed to compact store: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// HandleStore 处理 DELETE /api/store
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.controller.Store().ClearAll(r.Context()); err != nil {
		http.Error(w, "Failed to clear store: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inspectRequest struct {
	Address string `json:"address"` // ip:port
	Kind    string `json:"kind"`
}

// HandleInspect 处理 POST /api/inspect，同步返回检测报告。
func (h *Handler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req inspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	line := req.Address
	if req.Kind != "" {
		line += " [" + req.Kind + "]"
	}
	c, err := ingest.ParseLine(line, model.KindHTTP)
	if err != nil {
		http.Error(w, "Invalid proxy: "+err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.controller.Validator().Inspect(r.Context(), c)
	if err != nil {
		http.Error(w, "Failed to inspect proxy: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleLocate 处理 GET /api/locate?ip=1.2.3.4
func (h *Handler) HandleLocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if ip == "" {
		http.Error(w, "Missing ip parameter", http.StatusBadRequest)
		return
	}
	loc := h.controller.Validator().Locate(r.Context(), ip)
	writeJSON(w, http.StatusOK, map[string]interface{}{"location": loc, "display": loc.String()})
}
