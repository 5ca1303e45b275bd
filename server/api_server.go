package server

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type SessionCounter interface {
	ActiveSessions() int
}

type sessionsResponse struct {
	Active int `json:"active"`
}

func NewApiRouter(sessions SessionCounter) *mux.Router {
	apiRoutes := mux.NewRouter()

	apiRoutes.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.Handler())
	apiRoutes.Path("/debug/vars").Methods(http.MethodGet).Handler(expvar.Handler())
	apiRoutes.Path("/sessions").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, err := json.Marshal(&sessionsResponse{Active: sessions.ActiveSessions()})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(content)
	})

	return apiRoutes
}

// StartApiServer serves the metrics and session endpoints until ctx is done
func StartApiServer(ctx context.Context, apiBinding string, sessions SessionCounter) {
	logrus.WithField("binding", apiBinding).Info("Serving API requests")

	srv := &http.Server{
		Addr:              apiBinding,
		Handler:           NewApiRouter(sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("API server failed")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
}
