package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"college-gateway/middleware/ratelimit"
	"college-gateway/middleware/ratelimit/application"
	"college-gateway/middleware/rbac"
	"college-gateway/middleware/respond"
	"college-gateway/storage/sqlite"
)

const noticesCacheKey = "cache:notices:list"

type createNoticeRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Audience string `json:"audience"`
}

// listNotices serve o mural a partir do cache; no MISS lê do banco pelo pool+breaker.
func (h *handlers) listNotices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.deps.Cache != nil {
		if body, ok, err := h.deps.Cache.Get(ctx, noticesCacheKey); err == nil && ok {
			h.cacheLookup(true)
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, body)
			return
		}
		h.cacheLookup(false)
	}

	body, err := application.Guarded(ctx, h.deps.Pool, h.deps.Breaker, DBBreakerKey, func(ctx context.Context) ([]byte, error) {
		h.setLoad(w)
		notices, err := h.deps.Notices.List(ctx, limitParam(r))
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"notices": notices, "count": len(notices)})
	})
	if err != nil {
		h.deps.Logger.Error().Err(err).Str("request_id", respond.RequestID(r)).Msg("list notices failed")
		ratelimit.WriteError(w, r, err)
		return
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.Set(ctx, noticesCacheKey, body, h.deps.CacheTTL); err != nil {
			h.deps.Logger.Warn().Err(err).Msg("notice cache set failed")
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeRaw(w, http.StatusOK, body)
}

// createNotice grava um aviso e invalida o cache do mural.
func (h *handlers) createNotice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := rbac.FromContext(ctx)

	var req createNoticeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respond.WriteError(w, r, http.StatusBadRequest, "Bad request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respond.WriteError(w, r, http.StatusBadRequest, "Bad request", sqlite.ErrInvalidNotice.Error())
		return
	}

	n, err := application.Guarded(ctx, h.deps.Pool, h.deps.Breaker, DBBreakerKey, func(ctx context.Context) (sqlite.Notice, error) {
		h.setLoad(w)
		return h.deps.Notices.Create(ctx, sqlite.Notice{
			Title:    req.Title,
			Body:     req.Body,
			Audience: req.Audience,
			AuthorID: id.Subject,
		})
	})
	if err != nil {
		if errors.Is(err, sqlite.ErrInvalidNotice) {
			respond.WriteError(w, r, http.StatusBadRequest, "Bad request", err.Error())
			return
		}
		h.deps.Logger.Error().Err(err).Str("request_id", respond.RequestID(r)).Msg("create notice failed")
		ratelimit.WriteError(w, r, err)
		return
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.Delete(ctx, noticesCacheKey); err != nil {
			h.deps.Logger.Warn().Err(err).Msg("notice cache invalidation failed")
		}
	}
	respond.JSON(w, http.StatusCreated, n)
}

// me devolve a identidade autenticada e as permissões efetivas do papel.
func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.FromContext(r.Context())
	respond.JSON(w, http.StatusOK, map[string]any{
		"user":        id,
		"permissions": h.deps.Policy.Permissions(id.Role),
	})
}

// setLoad anota X-Server-Load enquanto a vaga do pool está ocupada.
func (h *handlers) setLoad(w http.ResponseWriter) {
	st := h.deps.Pool.Stats()
	if st.Max > 0 {
		w.Header().Set("X-Server-Load", strconv.Itoa(st.Active)+"/"+strconv.Itoa(st.Max))
	}
}

func (h *handlers) cacheLookup(hit bool) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.CacheLookup(hit)
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
