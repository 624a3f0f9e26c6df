package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/token"

	"github.com/spf13/cobra"
)

// Run is the CLI entrypoint used by cmd/gatehouse.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gatehouse",
		Short:         "Credential verification and session gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env: GATEHOUSE_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newUsersCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(parent context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// ---- users ----

func newUsersCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Seed identities",
	}
	cmd.AddCommand(newUsersCreateCmd(configPath))
	return cmd
}

func newUsersCreateCmd(configPath *string) *cobra.Command {
	var (
		email         string
		name          string
		pw            string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user with a password credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				pw = line
			}
			if pw == "" {
				return errors.New("password required (--password or --password-stdin)")
			}

			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat, false)

			hash, err := cfg.Password.Hash(pw)
			if err != nil {
				return fmt.Errorf("password rejected: %w", err)
			}

			st, closeStore, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := st.CreateUser(cmd.Context(), identity.CreateUserInput{
				Email:        email,
				Name:         name,
				PasswordHash: hash,
				Now:          time.Now(),
			})
			if err != nil {
				if identity.IsConflict(err) {
					return fmt.Errorf("email %q is already registered", strings.TrimSpace(email))
				}
				if identity.IsInvalidInput(err) {
					return fmt.Errorf("email %q is not a valid address", strings.TrimSpace(email))
				}
				return err
			}

			log.Info("users.create.ok", "user_id", res.User.ID)
			return writeUserJSON(cmd.OutOrStdout(), res.User)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email (exact match at login)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&pw, "password", "", "password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ---- token ----

func newTokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect bearer tokens",
	}
	cmd.AddCommand(newTokenDecodeCmd(configPath))
	return cmd
}

func newTokenDecodeCmd(configPath *string) *cobra.Command {
	var resolve bool

	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Verify a token against the configured key and print its identity id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := ValidateSecurityConfig(cfg); err != nil {
				return err
			}
			codec, err := token.NewCodec(cfg.Session.TokenConfig())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !resolve {
				claims, err := codec.Decode(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, claims.ID)
				return err
			}

			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat, false)
			st, closeStore, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			resolver, err := session.NewResolver(codec, st, session.WithLogger(log))
			if err != nil {
				return err
			}
			res, err := resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Outcome != session.OutcomeIdentity {
				return fmt.Errorf("token does not resolve: %s", res.Outcome)
			}
			return writeUserJSON(out, res.Identity)
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "also look the identity up in the store")
	return cmd
}

// ---- helpers ----

func writeUserJSON(w io.Writer, u identity.User) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"created_at": u.CreatedAt,
	})
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
