package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	"github.com/maleckot/umrec-sub006/internal/service"
)

const overdueSheet = "逾期分配"

var overdueHeader = []interface{}{"提交ID", "审查人", "轮次", "分配时间", "截止时间"}

func newOverdueCmd() *cobra.Command {
	var (
		pageSize int
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "列出已逾期的待审分配",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			repo := repository.NewRepository(e.db)
			workflowSvc := service.NewWorkflowService(&e.cfg.Workflow, repo, notify.Nop{}, service.SystemClock, e.logger)
			actor := service.Actor{UserID: "umrecctl", Role: service.RoleSecretariat}

			list, total, err := workflowSvc.ListOverdueAssignments(cmd.Context(), actor, &dto.PaginationRequest{Page: 1, PageSize: pageSize})
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				if err := writeOverdueXLSX(list, xlsxPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 条逾期分配到 %s\n", len(list), xlsxPath)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBMISSION\tREVIEWER\tASSIGNED_AT\tDUE_AT")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.SubmissionID, a.ReviewerID, a.AssignedAt, a.DueAt)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "共 %d 条逾期分配\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "limit", 100, "最多显示条数")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "导出为 Excel 文件的路径")
	return cmd
}

// writeOverdueXLSX 将逾期分配写入单个工作表，首行为表头
func writeOverdueXLSX(list []dto.AssignmentResponse, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(overdueSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	// 删除默认 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	f.SetColWidth(overdueSheet, "A", "B", 38)
	f.SetColWidth(overdueSheet, "C", "C", 8)
	f.SetColWidth(overdueSheet, "D", "E", 22)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(overdueSheet, "A1", &overdueHeader); err != nil {
		return err
	}
	f.SetCellStyle(overdueSheet, "A1", "E1", headerStyle)

	for i, a := range list {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{a.SubmissionID, a.ReviewerID, a.Cycle, a.AssignedAt, a.DueAt}
		if err := f.SetSheetRow(overdueSheet, cell, &row); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}
