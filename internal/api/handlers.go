// Package api wires the dashboard pages, their live-poll variants, the
// administrative actions and the machine-readable endpoints onto one router.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadmax/resqview/internal/dashboard"
	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/httputil"
	"github.com/nadmax/resqview/internal/metrics"
	"github.com/nadmax/resqview/internal/middleware"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/render"
	"github.com/nadmax/resqview/internal/repository"
	"github.com/nadmax/resqview/internal/repository/models"
	"github.com/nadmax/resqview/internal/store"
)

const (
	defaultActionLimit = 50
	maxActionLimit     = 500

	defaultStatsHours = 24
	maxStatsHours     = 24 * 30
)

type Deps struct {
	Store     *store.Store
	Dashboard *dashboard.Dashboard
	Runtime   *queue.Runtime
	Failures  *failure.Index
	Renderer  *render.Renderer
	// Actions is optional; without it administrative actions are not audited.
	Actions repository.ActionRepository
	Logger  *slog.Logger
}

type API struct {
	store    *store.Store
	dash     *dashboard.Dashboard
	runtime  *queue.Runtime
	failures *failure.Index
	renderer *render.Renderer
	actions  repository.ActionRepository
	logger   *slog.Logger
	router   chi.Router
}

func NewAPI(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		store:    d.Store,
		dash:     d.Dashboard,
		runtime:  d.Runtime,
		failures: d.Failures,
		renderer: d.Renderer,
		actions:  d.Actions,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(a.logger))
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chimw.StripSlashes)

	r.Get("/", redirectTo("/overview"))
	r.Get("/overview", a.handleOverview)
	r.Get("/overview.poll", a.handleOverview)
	r.Get("/workers", a.handleWorkers)
	r.Get("/workers.poll", a.handleWorkers)
	r.Get("/workers/{id}", a.handleWorker)
	r.Get("/working", a.handleWorking)
	r.Get("/queues", a.handleQueues)
	r.Get("/queues/{id}", a.handleQueue)
	r.Get("/failed", a.handleFailed)
	r.Get("/failed/{queue}", a.handleFailedByQueue)
	r.Get("/failed/{queue}/{exception}", a.handleFailedByException)
	r.Get("/stats", redirectTo("/stats/resque"))
	r.Get("/stats/{id}", a.handleStats)
	r.Get("/stats/keys/{key}", a.handleKey)
	r.Get("/stats.txt", a.handleStatsText)

	r.Post("/queues/{id}/remove", a.handleRemoveQueue)
	r.Post("/failed/clear", a.handleClearFailed)
	r.Post("/failed/clear/{queue}", a.handleClearQueue)
	r.Post("/failed/clear/{queue}/{exception}", a.handleClearException)
	r.Post("/failed/requeue/all", a.handleRequeueAll)
	r.Post("/failed/requeue/{index}", a.handleRequeue)
	r.Post("/failed/remove/{index}", a.handleRemove)

	r.Get("/api/actions", a.handleActions)
	r.Get("/api/actions/stats", a.handleActionStats)
	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// pollMode reports whether the request is a live poll and returns the path
// the page lives at without the suffix.
func pollMode(r *http.Request) (render.Mode, string) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if trimmed, ok := strings.CutSuffix(path, render.PollSuffix); ok {
		return render.Polling, trimmed
	}
	return render.Normal, path
}

// param returns a decoded path parameter. chi matches on RawPath when the
// request has one, and only then is the captured value still escaped.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func startParam(r *http.Request) int64 {
	start, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err != nil || start < 0 {
		return 0
	}
	return start
}

func (a *API) show(w http.ResponseWriter, r *http.Request, page string, data any, mode render.Mode, path string) {
	if mode == render.Polling {
		metrics.RecordPoll(page)
	}
	if err := a.renderer.Render(w, page, data, mode, path); err != nil {
		a.logger.ErrorContext(r.Context(), "render failed",
			"page", page,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
		httputil.WriteJSONError(w, "failed to render page", http.StatusInternalServerError)
	}
}

// fail maps a read or action error onto a response. A store outage always
// yields the degraded page.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		metrics.RecordStoreUnavailable()
		a.logger.ErrorContext(r.Context(), "redis unavailable",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
		a.renderer.RenderError(w, http.StatusServiceUnavailable, fmt.Sprintf("Can't connect to Redis! (%s)", a.store.Addr()))
	case errors.Is(err, failure.ErrIndexOutOfRange):
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, queue.ErrWorkerNotFound):
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, failure.ErrMalformedRecord):
		httputil.WriteJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
		httputil.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	mode, path := pollMode(r)
	view, err := a.dash.Overview(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "overview", view, mode, path)
}

func (a *API) handleWorkers(w http.ResponseWriter, r *http.Request) {
	mode, path := pollMode(r)
	view, err := a.dash.Workers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "workers", view, mode, path)
}

func (a *API) handleWorker(w http.ResponseWriter, r *http.Request) {
	mode, path := pollMode(r)
	id := strings.TrimSuffix(param(r, "id"), render.PollSuffix)

	worker, err := a.dash.Worker(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "worker", worker, mode, path)
}

func (a *API) handleWorking(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.Working(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "working", view, render.Normal, r.URL.Path)
}

func (a *API) handleQueues(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.Queues(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "queues", view, render.Normal, r.URL.Path)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.Queue(r.Context(), param(r, "id"), startParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "queue", view, render.Normal, r.URL.Path)
}

func (a *API) handleFailed(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.Failed(r.Context(), startParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "failed", view, render.Normal, r.URL.Path)
}

func (a *API) handleFailedByQueue(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.FailedByQueue(r.Context(), param(r, "queue"), startParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "fail_detail", view, render.Normal, r.URL.Path)
}

func (a *API) handleFailedByException(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.FailedByException(r.Context(), param(r, "queue"), param(r, "exception"), startParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "fail_detail", view, render.Normal, r.URL.Path)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		page string
		data any
		err  error
	)
	switch chi.URLParam(r, "id") {
	case "resque":
		page = "stats"
		data, err = a.dash.Info(ctx)
	case "redis":
		page = "redis"
		data, err = a.dash.RedisInfo(ctx)
	case "keys":
		page = "keys"
		data, err = a.dash.Keys(ctx)
	default:
		httputil.WriteJSONError(w, "unknown stats page", http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, page, data, render.Normal, r.URL.Path)
}

func (a *API) handleKey(w http.ResponseWriter, r *http.Request) {
	view, err := a.dash.Key(r.Context(), param(r, "key"), startParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.show(w, r, "key", view, render.Normal, r.URL.Path)
}

func (a *API) handleStatsText(w http.ResponseWriter, r *http.Request) {
	text, err := a.dash.StatsText(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httputil.WriteText(w, text, http.StatusOK)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, map[string]string{
			"status": "degraded",
			"redis":  a.store.Addr(),
			"error":  err.Error(),
		}, http.StatusServiceUnavailable)
		return
	}
	httputil.WriteJSON(w, map[string]string{"status": "ok", "redis": a.store.Addr()}, http.StatusOK)
}

func (a *API) handleActions(w http.ResponseWriter, r *http.Request) {
	if a.actions == nil {
		httputil.WriteJSONError(w, "audit log is not configured", http.StatusNotFound)
		return
	}

	limit := defaultActionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxActionLimit)
	}

	var (
		actions []models.Action
		err     error
	)
	if kind := r.URL.Query().Get("action"); kind != "" {
		actions, err = a.actions.ActionsByType(r.Context(), kind, limit)
	} else {
		actions, err = a.actions.RecentActions(r.Context(), limit)
	}
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to read audit log", "error", err)
		httputil.WriteJSONError(w, "failed to read audit log", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, actions, http.StatusOK)
}

func (a *API) handleActionStats(w http.ResponseWriter, r *http.Request) {
	if a.actions == nil {
		httputil.WriteJSONError(w, "audit log is not configured", http.StatusNotFound)
		return
	}

	hours := defaultStatsHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "invalid hours", http.StatusBadRequest)
			return
		}
		hours = min(n, maxStatsHours)
	}

	stats, err := a.actions.ActionStats(r.Context(), hours)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to read audit stats", "error", err)
		httputil.WriteJSONError(w, "failed to read audit stats", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, stats, http.StatusOK)
}

// audit counts the action and records it in the audit log when one is
// configured. A failing audit write never fails the action itself.
func (a *API) audit(ctx context.Context, action, target string, affected int64, err error) {
	metrics.RecordAdminAction(action, affected, err)

	fields := []any{
		"action", action,
		"target", target,
		"affected", affected,
		"request_id", middleware.RequestIDFromContext(ctx),
	}
	if err != nil {
		a.logger.WarnContext(ctx, "admin action failed", append(fields, "error", err)...)
	} else {
		a.logger.InfoContext(ctx, "admin action", fields...)
	}

	if a.actions == nil {
		return
	}
	entry := &models.Action{
		Action:    action,
		Target:    target,
		Affected:  affected,
		RequestID: middleware.RequestIDFromContext(ctx),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := a.actions.LogAction(ctx, entry); logErr != nil {
		a.logger.ErrorContext(ctx, "failed to write audit log", "action", action, "error", logErr)
	}
}

func (a *API) runAction(w http.ResponseWriter, r *http.Request, action, target, redirect string, run func(context.Context) (int64, error)) {
	affected, err := run(r.Context())
	a.audit(r.Context(), action, target, affected, err)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

func (a *API) handleRemoveQueue(w http.ResponseWriter, r *http.Request) {
	name := param(r, "id")
	a.runAction(w, r, "remove_queue", name, "/queues", func(ctx context.Context) (int64, error) {
		if err := a.runtime.RemoveQueue(ctx, name); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (a *API) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	a.runAction(w, r, "clear", "", "/failed", a.failures.Clear)
}

func (a *API) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	queueName := param(r, "queue")
	a.runAction(w, r, "clear_queue", queueName, "/failed/"+url.PathEscape(queueName), func(ctx context.Context) (int64, error) {
		return a.failures.RemoveQueue(ctx, queueName)
	})
}

func (a *API) handleClearException(w http.ResponseWriter, r *http.Request) {
	queueName := param(r, "queue")
	exception := param(r, "exception")
	a.runAction(w, r, "clear_exception", queueName+"/"+exception, "/failed/"+url.PathEscape(queueName), func(ctx context.Context) (int64, error) {
		return a.failures.RemoveMatching(ctx, queueName, exception)
	})
}

func (a *API) handleRequeueAll(w http.ResponseWriter, r *http.Request) {
	a.runAction(w, r, "requeue_all", "", "/failed", a.failures.RequeueAll)
}

func indexParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || i < 0 {
		httputil.WriteJSONError(w, fmt.Sprintf("invalid index %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return i, true
}

func isXHR(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

// handleRequeue answers an XHR with the record's new retried_at text so the
// page can update in place.
func (a *API) handleRequeue(w http.ResponseWriter, r *http.Request) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}

	rec, err := a.failures.Requeue(r.Context(), i)
	target := strconv.FormatInt(i, 10)
	if err != nil {
		a.audit(r.Context(), "requeue", target, 0, err)
		a.fail(w, r, err)
		return
	}
	a.audit(r.Context(), "requeue", target, 1, nil)

	if isXHR(r) {
		httputil.WriteText(w, rec.RetriedAt.Format(failure.TimeLayout), http.StatusOK)
		return
	}
	http.Redirect(w, r, "/failed", http.StatusSeeOther)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	i, ok := indexParam(w, r)
	if !ok {
		return
	}
	a.runAction(w, r, "remove", strconv.FormatInt(i, 10), "/failed", func(ctx context.Context) (int64, error) {
		if err := a.failures.Remove(ctx, i); err != nil {
			return 0, err
		}
		return 1, nil
	})
}
