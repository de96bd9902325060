package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camden-git/faceidbackend/handlers"
	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/realtime"
	"github.com/camden-git/faceidbackend/workers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the face enrollment and recognition HTTP API.

Enrollments and retrains run one at a time on a training queue; recognition
requests run concurrently against the last published model. When samples
exist but no model file does, a retrain is started in the background.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "", "Port to listen on; overrides PORT")
	serveCmd.Flags().Bool("no-debug", false, "Do not mount the /debug routes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := mustGetString(cmd, "port"); port != "" {
		cfg.Port = port
	}

	queue := workers.NewTrainingQueue(cfg.TrainingQueueSize)
	hub := realtime.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Writer: queue, Events: hub})
	if err != nil {
		queue.Stop()
		hub.Stop()
		return err
	}
	// the queue finishes its running job before the database closes
	defer func() {
		queue.Stop()
		hub.Stop()
		a.Close()
	}()

	go func() {
		trained, err := a.faces.RetrainIfMissing(ctx)
		switch {
		case err != nil:
			logger.Warnf("serve: startup retrain failed: %v", err)
		case trained:
			logger.Infof("serve: startup retrain published %s", cfg.ModelPath)
		}
	}()

	deps := handlers.RouterDeps{
		Faces: &handlers.FaceHandler{Faces: a.faces},
		Model: &handlers.ModelHandler{
			Trainer: a.faces,
			Model:   a.recognizer,
			Queue:   queue,
		},
		Identities:     &handlers.IdentityHandler{Identities: a.identityReader(), Samples: a.samples},
		Samples:        &handlers.SampleHandler{Samples: a.samples},
		Events:         hub.ServeWS,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 60 * time.Second,
	}
	if !mustGetBool(cmd, "no-debug") {
		deps.Debug = &handlers.DebugHandler{Locator: a.faces, Recognizer: a.faces, Annotate: annotate}
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     logger.StdLogger(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		logger.Infof("serve: shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("serve: error during shutdown: %v", err)
		}
	}()

	logger.Info("serve: listening", "addr", server.Addr, "samples", cfg.SamplesPath, "model", cfg.ModelPath)
	fmt.Printf("Server starting on http://localhost:%s\n", cfg.Port)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
