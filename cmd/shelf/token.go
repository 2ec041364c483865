package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/httpapi"
)

var (
	flagTokenTTL      time.Duration
	flagTokenProjects []string
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Token signs an HS256 token with jwt_secret. The subject is the caller
id. With --projects the token only grants those projects.

Example:
  shelf token alice --projects acme --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return httpapi.ErrAuthNotEnabled
		}
		now := time.Now()
		claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
		if flagTokenTTL > 0 {
			claims.ExpiresAt = jwt.NewNumericDate(now.Add(flagTokenTTL))
		}
		tok, err := httpapi.NewAuthenticator(cfg.JWTSecret).Sign(args[0], flagTokenProjects, claims)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	tokenCmd.Flags().StringSliceVar(&flagTokenProjects, "projects", nil, "projects the token grants (default: all)")
}
