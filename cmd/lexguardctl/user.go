package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrEthical07/lexguard/internal/store/postgres"
	"github.com/MrEthical07/lexguard/password"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Hash a password read from stdin with the default Argon2id parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := hashFrom(cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func hashFrom(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password on stdin")
	}
	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return "", err
	}
	return hasher.Hash(pw)
}

func newUserCmd() *cobra.Command {
	var dsn string
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage portal accounts in Postgres",
	}
	user.PersistentFlags().StringVar(&dsn, "dsn", envOr("DB_DSN", ""), "Postgres connection string")

	user.AddCommand(&cobra.Command{
		Use:     "add EMAIL ROLE",
		Short:   "Create an account; the password is read from stdin",
		Example: `  echo 's3cret-pass' | lexguardctl user add lawyer@firm.example LAWYER`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := permission.ParseRole(args[1])
			if err != nil {
				return err
			}
			hash, err := hashFrom(cmd.InOrStdin())
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd, dsn)
			if err != nil {
				return err
			}
			defer closeFn()

			id, err := store.CreateUser(cmd.Context(), strings.ToLower(strings.TrimSpace(args[0])), hash, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	user.AddCommand(&cobra.Command{
		Use:   "deactivate USER_ID",
		Short: "Disable an account so it can no longer sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd, dsn)
			if err != nil {
				return err
			}
			defer closeFn()
			return store.Deactivate(cmd.Context(), args[0])
		},
	})
	return user
}

func openStore(cmd *cobra.Command, dsn string) (*postgres.Store, func(), error) {
	if dsn == "" {
		return nil, nil, errors.New("--dsn or DB_DSN is required")
	}
	pool, err := pgxpool.New(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewStore(pool)
	if err := store.Migrate(cmd.Context()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
