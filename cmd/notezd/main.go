// Command notezd runs the note system's long-lived processes:
//
//	notezd serve   the coordinator: message router + dual-store persistence
//	notezd api     the remote note API service
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbuguanewton/notez/internal/backend"
	"github.com/mbuguanewton/notez/internal/bus"
	"github.com/mbuguanewton/notez/internal/coordinator"
	"github.com/mbuguanewton/notez/internal/httpapi"
	"github.com/mbuguanewton/notez/internal/message"
	"github.com/mbuguanewton/notez/internal/remote"
	"github.com/mbuguanewton/notez/internal/settings"
	"github.com/mbuguanewton/notez/internal/store"
)

var (
	flagConfig string
	flagDB     string
	flagListen string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:           "notezd",
		Short:         "Selection capture note store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagConfig, "config", "notez.yaml", "settings file")
	serveCmd.Flags().StringVar(&flagDB, "db", "notez.db", "local store path (\":memory:\" for none)")
	serveCmd.Flags().StringVar(&flagListen, "listen", "127.0.0.1:8630", "message endpoint address")

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Run the remote note API service",
		RunE:  runAPI,
	}
	apiCmd.Flags().StringVar(&flagDB, "db", "notez-api.db", "store path")
	apiCmd.Flags().StringVar(&flagListen, "listen", "127.0.0.1:8631", "listen address")

	root.AddCommand(serveCmd, apiCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "notezd:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	mgr, err := settings.NewManager(flagConfig, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.Watch(); err != nil {
		logger.Warn("settings watch unavailable", zap.Error(err))
	}

	local, err := store.NewSQLiteStoreWithDSN(flagDB)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	cfg := mgr.Current()
	rc := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std())
	dual := backend.NewDual(rc, local, logger)
	defer dual.Close()

	coord := coordinator.New(dual, mgr, logger)
	b := bus.New(coord.Handle)
	b.Start()
	defer b.Close()

	srv := &http.Server{
		Addr:    flagListen,
		Handler: messageHandler(b.Connect(), logger),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("message endpoint failed", zap.Error(err))
		}
	}()
	logger.Info("coordinator ready",
		zap.String("listen", flagListen),
		zap.String("db", flagDB),
		zap.String("remote", cfg.Remote.BaseURL))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Shutdown(context.Background())
}

// messageHandler bridges external contexts onto the bus: one POST /message,
// one reply.
func messageHandler(port *bus.Port, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req message.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResponse(w, http.StatusBadRequest, message.Failure("malformed request: "+err.Error()))
			return
		}
		resp, err := port.Send(r.Context(), req)
		if err != nil {
			writeResponse(w, http.StatusBadGateway, message.Failure(err.Error()))
			return
		}
		writeResponse(w, http.StatusOK, resp)
	})
	return mux
}

func writeResponse(w http.ResponseWriter, status int, resp message.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func runAPI(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.NewSQLiteStoreWithDSN(flagDB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv := &http.Server{
		Addr:    flagListen,
		Handler: httpapi.NewHandler(st, logger),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()
	logger.Info("note api ready", zap.String("listen", flagListen), zap.String("db", flagDB))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Shutdown(context.Background())
}
