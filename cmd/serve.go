package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/engine"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API. baseCtx outlives individual requests and is
// used for async job runs so an accepted run survives its request.
func newRouter(baseCtx context.Context, env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		report := env.Checker.Check(req.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})

	r.Get("/metrics/snapshot", func(w http.ResponseWriter, req *http.Request) {
		snap, err := monitoring.NewCollector(env.Store).Collect(req.Context(), cfg.Monitoring.LookbackHours)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Route("/artifacts", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var a model.Artifact
			if !decodeBody(w, req, &a) {
				return
			}
			created, err := env.Store.CreateArtifact(req.Context(), &a)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		})

		r.Post("/validate", func(w http.ResponseWriter, req *http.Request) {
			var a model.Artifact
			if !decodeBody(w, req, &a) {
				return
			}
			result, err := env.Engine.Validate(req.Context(), &a)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/keyword", func(w http.ResponseWriter, req *http.Request) {
				var body struct {
					Keyword string `json:"keyword"`
				}
				if !decodeBody(w, req, &body) {
					return
				}
				id := chi.URLParam(req, "id")
				// The store enforces bind-once and site-wide uniqueness
				// atomically; a rebind or a taken keyword comes back as a
				// typed structural violation.
				if err := env.Store.BindKeyword(req.Context(), id, body.Keyword); err != nil {
					writeError(w, err)
					return
				}
				a, err := env.Store.GetArtifact(req.Context(), id)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, a)
			})

			r.Get("/gates", func(w http.ResponseWriter, req *http.Request) {
				decision, err := env.Engine.CheckGates(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, decision)
			})

			r.Post("/publish", func(w http.ResponseWriter, req *http.Request) {
				result, err := env.Engine.Publish(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				status := http.StatusOK
				if !result.Published {
					status = http.StatusConflict
				}
				writeJSON(w, status, result)
			})

			r.Post("/decommission", func(w http.ResponseWriter, req *http.Request) {
				var body struct {
					Redirect string `json:"redirect"`
				}
				if !decodeBody(w, req, &body) {
					return
				}
				result, err := env.Engine.Decommission(req.Context(), chi.URLParam(req, "id"), body.Redirect)
				if err != nil {
					writeError(w, err)
					return
				}
				status := http.StatusOK
				if !result.Decommissioned {
					status = http.StatusConflict
				}
				writeJSON(w, status, result)
			})

			r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
				events, err := env.Engine.JobHistory(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, events)
			})
		})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				ArtifactID string `json:"artifact_id"`
			}
			if !decodeBody(w, req, &body) {
				return
			}
			job, err := env.Engine.NewJob(req.Context(), body.ArtifactID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, job)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/transition", func(w http.ResponseWriter, req *http.Request) {
				var body struct {
					Target string `json:"target"`
					Reason string `json:"reason"`
				}
				if !decodeBody(w, req, &body) {
					return
				}
				job, err := env.Engine.Transition(req.Context(), chi.URLParam(req, "id"), model.JobState(body.Target), body.Reason)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, job)
			})

			r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
				jobID := chi.URLParam(req, "id")
				var body struct {
					Brief         string `json:"brief"`
					PromptVersion string `json:"prompt_version"`
				}
				if !decodeBody(w, req, &body) {
					return
				}

				// Run asynchronously against the server's lifetime context.
				go func() {
					result, err := env.Engine.Run(baseCtx, jobID, engine.GenerationRequest{
						Brief:          body.Brief,
						PromptVersion:  body.PromptVersion,
						AttemptTimeout: attemptTimeout(cfg.Generation),
					})
					if err != nil {
						zap.L().Error("async job run failed",
							zap.String("job_id", jobID),
							zap.Error(err),
						)
						return
					}
					zap.L().Info("async job run complete",
						zap.String("job_id", jobID),
						zap.String("state", string(result.Job.State)),
						zap.Int("attempts", result.Attempts),
					)
				}()

				writeJSON(w, http.StatusAccepted, map[string]string{
					"status": "accepted",
					"job_id": jobID,
				})
			})

			r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
				var body struct {
					Reason string `json:"reason"`
				}
				if !decodeBody(w, req, &body) {
					return
				}
				if err := env.Engine.Cancel(req.Context(), chi.URLParam(req, "id"), body.Reason); err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
			})

			r.Post("/postcheck", func(w http.ResponseWriter, req *http.Request) {
				var content model.GeneratedContent
				if !decodeBody(w, req, &content) {
					return
				}
				result, err := env.Engine.Postcheck(req.Context(), chi.URLParam(req, "id"), &content)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, result)
			})

			r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
				events, err := env.Engine.StateHistory(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, events)
			})
		})
	})

	return r
}

func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps governance error kinds to HTTP statuses. Unclassified
// errors are internal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var ge *model.Error
	if errors.As(err, &ge) {
		switch ge.Code {
		case model.CodeArtifactNotFound, model.CodeJobNotFound, model.CodeSiloNotFound:
			status = http.StatusNotFound
		default:
			switch ge.Kind {
			case model.KindStructural, model.KindContentQuality, model.KindBudget:
				status = http.StatusUnprocessableEntity
			case model.KindConflict, model.KindState, model.KindGate:
				status = http.StatusConflict
			case model.KindSystem:
				status = http.StatusBadGateway
			}
		}
		writeJSON(w, status, map[string]any{
			"error": ge.Error(),
			"code":  ge.Code,
			"kind":  ge.Kind,
			"hint":  ge.Hint,
		})
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
