package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/api"
	"github.com/SanteonNL/mettertron/cmd/mettertron/background"
	"github.com/SanteonNL/mettertron/cmd/mettertron/mdr"
	"github.com/SanteonNL/mettertron/util"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mettertron",
		Short:         "Validates and translates form field codes between an MDR and a FHIR terminology server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(loginCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	log := a.log
	router := api.NewRouter(a.mdr, a.ts, a.formField, a.cache, log)
	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler := background.NewScheduler(a.mdr, a.cache, a.cfg.Background(), log)
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		log.Info().Msg("Shutting down server")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("Server error")
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return runErr
}

func validateCmd() *cobra.Command {
	var formID, fieldCode, value string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a value for a form field",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			result, err := a.formField.Validate(cmd.Context(), formID, fieldCode, value)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	fieldFlags(cmd, &formID, &fieldCode, &value)
	return cmd
}

func translateCmd() *cobra.Command {
	var formID, fieldCode, value string
	var lookup, fhirProperties bool
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a value of a form field through its concept map",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			result, err := a.formField.Translate(cmd.Context(), formID, fieldCode, value, lookup, fhirProperties)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	fieldFlags(cmd, &formID, &fieldCode, &value)
	cmd.Flags().BoolVar(&lookup, "lookup", false, "Look up the details of every matched concept")
	cmd.Flags().BoolVar(&fhirProperties, "fhir-properties", false, "Include the FHIR defined concept properties in lookups")
	return cmd
}

func loginCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the MDR and print the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			mode := mdr.LoginModeFromForce(util.Ptr(force))
			session, err := a.mdr.Login(cmd.Context(), mode)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"mode":       mode.String(),
				"token_type": session.TokenType,
				"scope":      session.Scope,
				"created_at": session.CreatedAt,
				"expires_at": session.ExpiresAt,
				"links":      a.mdr.Links(),
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Log in even when the current session is still valid")
	return cmd
}

func fieldFlags(cmd *cobra.Command, formID, fieldCode, value *string) {
	cmd.Flags().StringVar(formID, "form", "", "Form id")
	cmd.Flags().StringVar(fieldCode, "field", "", "Field code")
	cmd.Flags().StringVar(value, "value", "", "Field value (code)")
	_ = cmd.MarkFlagRequired("form")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("value")
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newLogger(level zerolog.Level, dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).
			Level(level).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
