package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/config"
	"github.com/ashita-ai/mamori/internal/mockdata"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/storage"
	"github.com/ashita-ai/mamori/migrations"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one agent cycle and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.agent.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Summary())
		},
	}
}

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Review persisted agent actions",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List actions by approval status, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := model.ApprovalStatus(status)
			if !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.db.ListActions(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			if items == nil {
				items = []model.ActionListItem{}
			}
			return printJSON(cmd.OutOrStdout(), model.ActionListResponse{Actions: items})
		},
	}
	list.Flags().StringVar(&status, "status", string(model.ApprovalPending), "pending, approved, rejected or auto_approved")
	list.Flags().IntVar(&limit, "limit", 50, "maximum actions to list (at most 50)")

	var approvedBy string
	approve := &cobra.Command{
		Use:   "approve <action-id>",
		Short: "Approve a pending action and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid action id: %w", err)
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.actor.ApproveAction(cmd.Context(), id, approvedBy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.ActionDecisionResponse{Message: "Action approved and executed", Result: &res})
		},
	}
	approve.Flags().StringVar(&approvedBy, "by", "admin", "name recorded as the approver")

	var rejectedBy, reason string
	reject := &cobra.Command{
		Use:   "reject <action-id>",
		Short: "Reject an action so it never executes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid action id: %w", err)
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.actor.RejectAction(cmd.Context(), id, rejectedBy, reason); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.ActionDecisionResponse{Message: "Action rejected"})
		},
	}
	reject.Flags().StringVar(&rejectedBy, "by", "admin", "name recorded as the rejecter")
	reject.Flags().StringVar(&reason, "reason", "Rejected by admin", "why the action was rejected")

	rollback := &cobra.Command{
		Use:   "rollback <action-id>",
		Short: "Undo an executed action that supports rollback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid action id: %w", err)
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.actor.Rollback(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.ActionDecisionResponse{Message: "Action rolled back", Result: &res})
		},
	}

	cmd.AddCommand(list, approve, reject, rollback)
	return cmd
}

func newMockDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mockdata",
		Short: "Seed, clear or stress the database with synthetic data",
	}

	var counts mockdata.Counts
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Insert merchants and a mix of tickets, errors and failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.mock.Generate(cmd.Context(), counts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	generate.Flags().IntVar(&counts.Merchants, "merchants", 0, "merchants to create (0 uses the default)")
	generate.Flags().IntVar(&counts.Tickets, "tickets", 0, "support tickets to create")
	generate.Flags().IntVar(&counts.APIErrors, "api-errors", 0, "failed API calls to create")
	generate.Flags().IntVar(&counts.WebhookFailures, "webhook-failures", 0, "failed webhook deliveries to create")
	generate.Flags().IntVar(&counts.CheckoutFailures, "checkout-failures", 0, "failed checkouts to create")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all source and agent records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.mock.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	crisis := &cobra.Command{
		Use:   "crisis",
		Short: "Simulate a checkout outage across existing merchants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.mock.Crisis(cmd.Context())
			if errors.Is(err, mockdata.ErrNoMerchants) {
				return errors.New("no merchants found, run 'mamori mockdata generate' first")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.AddCommand(generate, clearCmd, crisis)
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		operator string
		role     string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed operator JWT with the configured key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// An ephemeral key would sign a token no server can verify.
			if cfg.JWTPrivateKeyPath == "" || cfg.JWTPublicKeyPath == "" {
				return errors.New("MAMORI_JWT_PRIVATE_KEY and MAMORI_JWT_PUBLIC_KEY must be set to issue tokens")
			}
			mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration,
				newLogger(os.Stderr, cfg.LogLevel))
			if err != nil {
				return err
			}
			token, exp, err := mgr.IssueToken(operator, r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.AuthTokenResponse{Token: token, ExpiresAt: exp})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded on approvals")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "viewer, operator or admin")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an operator key for MAMORI_OPERATOR_KEY_HASH",
		Long:  "Hash an operator key for MAMORI_OPERATOR_KEY_HASH. Without --key the key is read from the first line of stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				key = line
			}
			hash, err := auth.HashOperatorKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "operator key to hash")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return "", errors.New("read key: no input")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func newGenKeyCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Write a persistent Ed25519 key pair for JWT signing",
		Long: `Write a persistent Ed25519 key pair for JWT signing.

Without persistent keys the server generates an ephemeral pair on every
start, which invalidates all issued tokens. Point MAMORI_JWT_PRIVATE_KEY and
MAMORI_JWT_PUBLIC_KEY at the written files. Existing files are never
overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath := filepath.Join(dir, "jwt_private.pem")
			pubPath := filepath.Join(dir, "jwt_public.pem")
			if err := auth.GenerateKeyFiles(privPath, pubPath); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "MAMORI_JWT_PRIVATE_KEY=%s\nMAMORI_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory for the key files")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(os.Stderr, cfg.LogLevel)

			ctx := cmd.Context()
			db, err := storage.New(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer db.Close()

			start := time.Now()
			if err := db.RunMigrations(ctx, migrations.FS); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			logger.Info("migrations applied", "duration_ms", time.Since(start).Milliseconds())
			return nil
		},
	}
}
