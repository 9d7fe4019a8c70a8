// Package main is the entrypoint for the Amdox operator CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/preesha73/Amdox-Website/internal/artifacts"
	"github.com/preesha73/Amdox-Website/internal/auth"
	"github.com/preesha73/Amdox-Website/internal/certificates"
	"github.com/preesha73/Amdox-Website/internal/config"
	"github.com/preesha73/Amdox-Website/internal/db"
	studentimport "github.com/preesha73/Amdox-Website/internal/import"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// newRenderer builds the PDF renderer for the pdf command.
var newRenderer = func(execPath string) certificates.Renderer {
	return certificates.NewChromeRenderer(execPath)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "amdoxctl",
		Short: "Operator tooling for the Amdox certificate service",
		Long: `amdoxctl manages the Amdox certificate store from the command line.

It reads the same environment (and .env file) as the server, so
STORE_DRIVER, DATABASE_URL, SQLITE_PATH and JWT_SECRET apply here too.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	logger := func(cmd *cobra.Command) zerolog.Logger {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newMigrateCmd(logger),
		newImportCmd(logger),
		newVerifyCmd(logger),
		newPDFCmd(logger),
		newTokenCmd(),
	)

	return rootCmd
}

type loggerFunc func(cmd *cobra.Command) zerolog.Logger

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "amdoxctl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		},
	}
}

func newMigrateCmd(logger loggerFunc) *cobra.Command {
	var (
		dbURL   string
		showVer bool
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return listMigrations(cmd.OutOrStdout())
			}

			url := dbURL
			if url == "" {
				url = os.Getenv("DATABASE_URL")
			}
			if url == "" {
				return errors.New("database URL required: use --db or set DATABASE_URL")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			log := logger(cmd)
			cfg := db.DefaultConfig(url)
			cfg.MaxConns = 5
			cfg.MinConns = 1

			database, err := db.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if showVer {
				version, err := database.CurrentVersion(ctx)
				if err != nil {
					return fmt.Errorf("get schema version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Current schema version: %d\n", version)
				return nil
			}

			log.Info().Msg("running database migrations")
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			version, err := database.CurrentVersion(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("could not get current version")
				return nil
			}
			log.Info().Int("version", version).Msg("migrations complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL)")
	cmd.Flags().BoolVar(&showVer, "version", false, "Show current schema version")
	cmd.Flags().BoolVar(&list, "list", false, "List all migrations")

	return cmd
}

func listMigrations(out io.Writer) error {
	migrations, err := db.GetMigrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	if len(migrations) == 0 {
		fmt.Fprintln(out, "No migrations found")
		return nil
	}

	fmt.Fprintln(out, "Available migrations:")
	for _, m := range migrations {
		fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
	}
	return nil
}

func newImportCmd(logger loggerFunc) *cobra.Command {
	var maxBytes int64

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Issue certificates from a student spreadsheet (.xlsx or .csv)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger(cmd)
			cfg := config.LoadServerConfig()
			if maxBytes <= 0 {
				maxBytes = cfg.ImportMaxBytes
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open spreadsheet: %w", err)
			}
			defer f.Close()

			sheet, err := studentimport.NewParser(studentimport.ParseOptions{MaxBytes: maxBytes}).Parse(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			defer sheet.Close()

			result, err := studentimport.NewValidator().ValidateSheet(sheet)
			if err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}

			store, closeStore, err := db.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			summary, err := certificates.NewIssuer(store, nil, log).Issue(cmd.Context(), result)
			if err != nil {
				return err
			}

			log.Info().
				Str("file", args[0]).
				Int("inserted", summary.Inserted).
				Int("skipped", summary.Skipped).
				Int("errors", len(summary.Errors)).
				Msg("import complete")

			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "Maximum spreadsheet size (default IMPORT_MAX_BYTES)")

	return cmd
}

func newVerifyCmd(logger loggerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <certId>",
		Short: "Look up a certificate by its identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger(cmd)
			store, closeStore, err := db.OpenStore(cmd.Context(), config.LoadServerConfig(), log)
			if err != nil {
				return err
			}
			defer closeStore()

			resp, err := certificates.NewVerifier(store, nil, log).Verify(cmd.Context(), args[0])
			if errors.Is(err, models.ErrCertificateNotFound) {
				_ = writeJSON(cmd.OutOrStdout(), models.VerificationResponse{Verified: false, Error: "Certificate not found"})
				return fmt.Errorf("certificate %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newPDFCmd(logger loggerFunc) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "pdf <certId>",
		Short: "Render (or fetch from cache) a certificate PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger(cmd)
			cfg := config.LoadServerConfig()

			store, closeStore, err := db.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			cache, err := artifacts.New(cmd.Context(), artifacts.Config{
				Backend:  cfg.CertsBackend,
				Dir:      cfg.CertsDir,
				Bucket:   cfg.CertsS3Bucket,
				Prefix:   cfg.CertsS3Prefix,
				Region:   cfg.CertsS3Region,
				Endpoint: cfg.CertsS3Endpoint,
			})
			if err != nil {
				return fmt.Errorf("open certificate cache: %w", err)
			}

			svc := certificates.NewPDFService(store, cache, newRenderer(cfg.ChromePath), cfg.RenderTimeout, nil, log)
			pdf, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer pdf.Body.Close()

			if output == "" {
				output = pdf.Filename()
			}
			dst, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if _, err := io.Copy(dst, pdf.Body); err != nil {
				_ = dst.Close()
				return fmt.Errorf("write %s: %w", output, err)
			}
			if err := dst.Close(); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}

			log.Info().Str("cert_id", pdf.CertID).Bool("cached", pdf.Cached).Str("file", output).Msg("certificate written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default certificate_<certId>.pdf)")

	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		name    string
		email   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := auth.NewTokenManager(os.Getenv("JWT_SECRET"))
			if err != nil {
				return err
			}

			token, err := tokens.Issue(models.Identity{
				UserID: subject,
				Name:   name,
				Email:  email,
				Role:   models.UserRole(strings.ToLower(role)),
			}, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "User ID carried as the token subject (required)")
	cmd.Flags().StringVar(&role, "role", string(models.UserRoleAdmin), "Role: admin, employer or jobseeker")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")

	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
