package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/repository"
)

func newReviewerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewer",
		Short: "维护审查人目录",
	}
	cmd.AddCommand(newReviewerUpsertCmd())
	return cmd
}

func newReviewerUpsertCmd() *cobra.Command {
	var (
		r            model.Reviewer
		tags         []string
		availability string
	)
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "新增或更新审查人（按 reviewer_id 覆盖）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.ReviewerID == "" {
				r.ReviewerID = uuid.NewString()
			} else if _, err := uuid.Parse(r.ReviewerID); err != nil {
				return fmt.Errorf("--id 必须是 UUID: %w", err)
			}
			switch availability {
			case model.ReviewerAvailable, model.ReviewerUnavailable:
				r.Availability = availability
			default:
				return fmt.Errorf("未知可用状态: %s", availability)
			}
			r.ExpertiseTags = model.StringArray{}
			for _, t := range tags {
				if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
					r.ExpertiseTags = append(r.ExpertiseTags, t)
				}
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := repository.NewRepository(e.db).Reviewer.Upsert(cmd.Context(), &r); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ReviewerID)
			return nil
		},
	}
	cmd.Flags().StringVar(&r.ReviewerID, "id", "", "审查人 ID（与身份系统用户 ID 一致，留空则生成）")
	cmd.Flags().StringVar(&r.Name, "name", "", "姓名")
	cmd.Flags().StringVar(&r.Email, "email", "", "邮箱")
	cmd.Flags().StringVar(&r.Panel, "panel", "", "所属审查小组")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "专业方向标签，逗号分隔")
	cmd.Flags().StringVar(&availability, "availability", model.ReviewerAvailable, "available 或 unavailable")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}
