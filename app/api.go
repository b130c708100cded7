package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib"
	"github.com/fiffu/dealwatch/lib/dedup"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/normalizer"
	"github.com/fiffu/dealwatch/lib/search"
	"github.com/fiffu/dealwatch/lib/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, reg *prometheus.Registry) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, reg)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("API server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("API listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, reg *prometheus.Registry) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("dealwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/deals", func(r chi.Router) {
			r.Get("/", ctrl.listDeals)
			r.Post("/", ctrl.submitDeal)
			r.Get("/{deal_id}", ctrl.getDeal)
		})
		r.Route("/search", func(r chi.Router) {
			r.Get("/", ctrl.search)
			r.Delete("/cache", ctrl.flushSearch)
			r.Get("/budgets", ctrl.budgets)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", ctrl.listSources)
			r.Patch("/{source_id}", ctrl.updateSource)
			r.Post("/{source_id}/repoll", ctrl.repoll)
			r.Get("/{source_id}/runs", ctrl.sourceRuns)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

// fail maps service errors onto statuses. Anything unrecognized is a 500.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	var normErr *normalizer.NormalizationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, lib.ErrInvalidPatch),
		errors.Is(err, search.ErrEmptyQuery),
		errors.As(err, &normErr):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, search.ErrTemporarilyUnavailable):
		w.Header().Set("Retry-After", "30")
		ctrl.reject(w, http.StatusServiceUnavailable, err)
	default:
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (ctrl *controller) listDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := models.FeedQuery{
		Search:   r.FormValue("search"),
		Merchant: r.FormValue("merchant"),
		Category: r.FormValue("category"),
		MinScore: parseIntOr(r.FormValue("min_score"), 0),
		Limit:    parseIntOr(r.FormValue("limit"), 0),
		Offset:   parseIntOr(r.FormValue("offset"), 0),
	}
	q = store.ClampFeedQuery(q)

	deals, hit, err := ctrl.svc.ListDeals(ctx, q)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"deals":     FromMany[models.Deal, DealView](deals),
		"limit":     q.Limit,
		"offset":    q.Offset,
		"cache_hit": hit,
	})
}

func (ctrl *controller) getDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(chi.URLParam(r, "deal_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("deal_id must be a positive integer"))
		return
	}

	deal, err := ctrl.svc.GetDeal(ctx, id)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, DealView{}.From(*deal))
}

func (ctrl *controller) submitDeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var sub models.ManualSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	deal, action, err := ctrl.svc.SubmitDeal(ctx, sub)
	if err != nil {
		ctrl.fail(w, err)
		return
	}

	status := http.StatusOK
	if action == dedup.ActionInsert {
		status = http.StatusCreated
	}
	ctrl.resolve(w, status, map[string]any{
		"action": action.String(),
		"deal":   DealView{}.From(*deal),
	})
}

func (ctrl *controller) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := ctrl.svc.Search(ctx, r.FormValue("q"), r.FormValue("country"), parseList(r.FormValue("providers")))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, resp)
}

func (ctrl *controller) flushSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := ctrl.svc.FlushSearch(ctx, r.FormValue("q"), r.FormValue("country"), parseList(r.FormValue("providers")))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deleted": n})
}

func (ctrl *controller) budgets(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, FromMany[search.BudgetStatus, BudgetView](ctrl.svc.Budgets()))
}

func (ctrl *controller) listSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sources, err := ctrl.svc.ListSources(ctx)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[lib.SourceStatus, SourceView](sources))
}

type sourcePatchRequest struct {
	Enabled      *bool   `json:"enabled"`
	PollInterval *string `json:"poll_interval"`
	Endpoint     *string `json:"endpoint"`
}

func (req sourcePatchRequest) patch() (models.SourcePatch, error) {
	patch := models.SourcePatch{Enabled: req.Enabled, Endpoint: req.Endpoint}
	if req.PollInterval != nil {
		d, err := time.ParseDuration(*req.PollInterval)
		if err != nil {
			return patch, fmt.Errorf("%w: poll_interval: %w", lib.ErrInvalidPatch, err)
		}
		patch.PollInterval = &d
	}
	return patch, nil
}

func (ctrl *controller) updateSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(chi.URLParam(r, "source_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("source_id must be a positive integer"))
		return
	}

	var req sourcePatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	patch, err := req.patch()
	if err != nil {
		ctrl.fail(w, err)
		return
	}

	src, err := ctrl.svc.UpdateSource(ctx, id, patch)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SourceView{}.From(*src))
}

func (ctrl *controller) repoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(chi.URLParam(r, "source_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("source_id must be a positive integer"))
		return
	}

	src, err := ctrl.svc.Repoll(ctx, id)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, SourceView{}.From(*src))
}

func (ctrl *controller) sourceRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(chi.URLParam(r, "source_id"))
	if !ok {
		ctrl.reject(w, http.StatusBadRequest, errors.New("source_id must be a positive integer"))
		return
	}

	runs, err := ctrl.svc.SourceRuns(ctx, id, parseIntOr(r.FormValue("limit"), 0))
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.IngestionRun, RunView](runs))
}

func parseID(s string) (uint, bool) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil || u == 0 {
		return 0, false
	}
	return uint(u), true
}

func parseIntOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
