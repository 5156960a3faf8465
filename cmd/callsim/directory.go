package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnkforks/CallRecorder/internal/contacts"
)

type lookupResponse struct {
	Name string `json:"name"`
}

// directoryHandler answers GET ?number= with {"name": ...} or 404.
func directoryHandler(dir *contacts.Directory, apiKey string, delay time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		number := r.URL.Query().Get("number")
		if number == "" {
			http.Error(w, "number is required", http.StatusBadRequest)
			return
		}

		// Simulate processing time
		if delay > 0 {
			time.Sleep(delay)
		}

		name, ok, _ := dir.LookupName(r.Context(), number)
		logger.Info("Lookup",
			slog.String("number", number),
			slog.Bool("found", ok),
			slog.String("name", name),
		)
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(lookupResponse{Name: name})
	}
}

func newDirectoryCmd(logger *slog.Logger) *cobra.Command {
	var (
		addr   string
		file   string
		apiKey string
		delay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Serve a contact directory for the recorder's HTTP contact source",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := contacts.NewDirectory(map[string]string{"+15550100": "Test Caller"})
			if file != "" {
				loaded, err := contacts.LoadDirectory(file)
				if err != nil {
					return err
				}
				dir = loaded
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/lookup", directoryHandler(dir, apiKey, delay, logger))

			logger.Info("Contact directory starting",
				slog.String("address", addr),
				slog.Int("numbers", dir.Len()),
			)
			logger.Info(fmt.Sprintf("Set contacts.http.endpoint to http://%s/lookup", addr))

			srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "Listen address")
	cmd.Flags().StringVar(&file, "file", "", "YAML contacts file")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this bearer key")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Artificial latency per lookup")

	return cmd
}
