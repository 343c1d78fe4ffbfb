package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigia-labs/scamwatch/internal/ingest"
	"github.com/vigia-labs/scamwatch/internal/model"
	"github.com/vigia-labs/scamwatch/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for scoring runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := newServeMux(ctx, env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newServeMux(ctx context.Context, env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /webhook/run", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Posts []model.Post `json:"posts"`
			Input string       `json:"input,omitempty"` // path to a saved posts file
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		posts := req.Posts
		if len(posts) == 0 && req.Input != "" {
			loaded, err := ingest.LoadPosts(req.Input)
			if err != nil {
				http.Error(w, `{"error":"could not load input file"}`, http.StatusBadRequest)
				return
			}
			posts = loaded
		}
		if len(posts) == 0 {
			http.Error(w, `{"error":"posts or input is required"}`, http.StatusBadRequest)
			return
		}

		// Score asynchronously; the summary lands on the run record.
		go func() {
			summary, err := env.Pipeline.Run(ctx, posts)
			if err != nil {
				zap.L().Error("webhook run failed", zap.Error(err))
				return
			}
			zap.L().Info("webhook run complete",
				zap.Int("posts_in", summary.PostsIn),
				zap.Int("posts_persisted", summary.PostsPersisted))
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "accepted",
			"posts":  len(posts),
		})
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(run)
	})

	mux.HandleFunc("GET /deadletters", func(w http.ResponseWriter, r *http.Request) {
		filter := resilience.DeadLetterFilter{ErrorType: r.URL.Query().Get("error_type")}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil || n <= 0 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			filter.Limit = n
		}
		entries, err := env.Store.ListDeadLetters(r.Context(), filter)
		if err != nil {
			http.Error(w, `{"error":"could not list dead letters"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
