package service

import (
	"time"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/workflow"
)

// ── model → dto 转换 ──

func toSubmissionResponse(s *model.Submission) dto.SubmissionResponse {
	allowed := workflow.Allowed(workflow.State(s.Status))
	events := make([]string, len(allowed))
	for i, e := range allowed {
		events[i] = string(e)
	}
	tags := []string(s.TopicTags)
	if tags == nil {
		tags = []string{}
	}
	return dto.SubmissionResponse{
		ID:             s.SubmissionID,
		Code:           s.Code,
		Title:          s.Title,
		SubmitterID:    s.SubmitterID,
		Status:         s.Status,
		RevisionCount:  s.RevisionCount,
		ReviewCategory: s.ReviewCategory,
		Panel:          s.Panel,
		TopicTags:      tags,
		AllowedEvents:  events,
		SubmittedAt:    dto.FormatTime(s.SubmittedAt),
		ReleasedAt:     dto.FormatTimePtr(s.ReleasedAt),
		Version:        s.Version,
	}
}

// toAssignmentResponse overdue 在读取时按 now 计算
func toAssignmentResponse(a *model.ReviewAssignment, now time.Time) dto.AssignmentResponse {
	return dto.AssignmentResponse{
		ID:            a.AssignmentID,
		SubmissionID:  a.SubmissionID,
		ReviewerID:    a.ReviewerID,
		Cycle:         a.Cycle,
		Status:        a.Status,
		AssignedAt:    dto.FormatTime(a.AssignedAt),
		DueAt:         dto.FormatTime(a.DueAt),
		Overdue:       a.IsOverdue(now),
		CompletedAt:   dto.FormatTimePtr(a.CompletedAt),
		Verdict:       a.Verdict,
		Comments:      a.Comments,
		ReplacementID: a.ReplacementID,
	}
}

func toAssignmentResponses(list []model.ReviewAssignment, now time.Time) []dto.AssignmentResponse {
	out := make([]dto.AssignmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAssignmentResponse(&list[i], now))
	}
	return out
}

func toDocumentResponses(docs []model.SubmissionDocument) []dto.DocumentResponse {
	out := make([]dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, dto.DocumentResponse{
			ID:       d.DocumentID,
			DocType:  d.DocType,
			FileName: d.FileName,
			FileKey:  d.FileKey,
			Revision: d.Revision,
		})
	}
	return out
}

func toHistoryResponses(list []model.SubmissionStatusHistory) []dto.StatusHistoryResponse {
	out := make([]dto.StatusHistoryResponse, 0, len(list))
	for _, h := range list {
		out = append(out, dto.StatusHistoryResponse{
			FromStatus: h.FromStatus,
			ToStatus:   h.ToStatus,
			Event:      h.Event,
			ActorID:    h.ActorID,
			Reason:     h.Reason,
			At:         dto.FormatTime(h.CreatedAt),
		})
	}
	return out
}
