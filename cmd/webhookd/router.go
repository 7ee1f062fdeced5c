package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
	"github.com/goliatone/go-billing-webhooks/core"
	billingquery "github.com/goliatone/go-billing-webhooks/query"
)

const webhookPath = "/webhooks/stripe"

func newRouter(engine *billingwebhooks.Engine) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(webhookPath, engine.HTTPHandler().ServeHTTP)
	r.Get("/records/{eventID}", recordHandler(engine))
	return r
}

func recordHandler(engine *billingwebhooks.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := engine.Queries.GetRecord.Query(r.Context(), billingquery.GetRecordMessage{
			EventID: chi.URLParam(r, "eventID"),
		})
		if err != nil {
			envelope := core.MapError(err).Clone()
			envelope.Location = nil
			writeJSON(w, core.HTTPStatus(err), envelope.ToErrorResponse(false, nil))
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// runPurger drops expired records on stores that do not expire them natively.
func runPurger(ctx context.Context, store core.IdempotencyStore, interval time.Duration, logger core.Logger) {
	p, ok := store.(purger)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired records failed", "error", err.Error())
				continue
			}
			if removed > 0 {
				logger.Debug("purged expired records", "removed", removed)
			}
		}
	}
}
