package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发服务令牌（供内部系统调用 API）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validRole(role) {
				return fmt.Errorf("未知角色: %s", role)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			token, err := jwt.NewManager(&cfg.Auth).GenerateAccessTokenWithTTL(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "令牌主体（用户 ID）")
	cmd.Flags().StringVar(&role, "role", service.RoleStaff, "角色")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "有效期")
	cmd.MarkFlagRequired("user")
	return cmd
}

func validRole(role string) bool {
	switch role {
	case service.RoleResearcher, service.RoleStaff, service.RoleSecretariat, service.RoleReviewer, service.RoleAdmin:
		return true
	}
	return false
}
