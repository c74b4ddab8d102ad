package service

import (
	"context"
	"errors"
	"fmt"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/repository"
)

// CalendarService 审查人截止日期日历订阅
type CalendarService interface {
	// ReviewerCalendar 将审查人的待审分配渲染为 iCalendar，每个分配一个全天事件（截止日）
	ReviewerCalendar(ctx context.Context, actor Actor, reviewerID string) (string, error)
}

type calendarService struct {
	repo    *repository.Repository
	baseURL string
	now     Clock
	logger  *zap.Logger
}

// NewCalendarService 创建 CalendarService 实例
func NewCalendarService(repo *repository.Repository, baseURL string, clock Clock, logger *zap.Logger) CalendarService {
	if clock == nil {
		clock = SystemClock
	}
	return &calendarService{repo: repo, baseURL: baseURL, now: clock, logger: logger}
}

const calendarProductID = "-//UMREC//Review Assignments//EN"

func (s *calendarService) ReviewerCalendar(ctx context.Context, actor Actor, reviewerID string) (string, error) {
	if actor.UserID != reviewerID && !actor.IsOffice() {
		return "", ErrPermissionDenied
	}

	list, err := s.repo.Assignment.ListByReviewer(ctx, reviewerID, []string{model.AssignmentPending})
	if err != nil {
		s.logger.Error("查询审查人分配失败", zap.String("reviewer_id", reviewerID), zap.Error(err))
		return "", err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(calendarProductID)
	cal.SetXWRCalName("UMREC 审查截止日")

	now := s.now().UTC()
	titles := make(map[string]*model.Submission)
	for i := range list {
		a := &list[i]
		sub, ok := titles[a.SubmissionID]
		if !ok {
			sub, err = s.repo.Submission.GetByID(ctx, a.SubmissionID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.Error("查询提交失败", zap.String("submission_id", a.SubmissionID), zap.Error(err))
				return "", err
			}
			titles[a.SubmissionID] = sub
		}

		summary := "审查截止"
		description := fmt.Sprintf("分配于 %s", a.AssignedAt.UTC().Format("2006-01-02"))
		if sub != nil {
			summary = fmt.Sprintf("审查截止：%s %s", sub.Code, sub.Title)
			description = fmt.Sprintf("%s，第 %d 轮", description, a.Cycle)
		}
		if a.IsOverdue(now) {
			summary = "[逾期] " + summary
		}

		due := a.DueAt.UTC()
		event := cal.AddEvent(a.AssignmentID + "@umrec")
		event.SetDtStampTime(now)
		event.SetSummary(summary)
		event.SetDescription(description)
		event.SetAllDayStartAt(due)
		event.SetAllDayEndAt(due.AddDate(0, 0, 1))
		if s.baseURL != "" {
			event.SetURL(fmt.Sprintf("%s/api/v1/submissions/%s", s.baseURL, a.SubmissionID))
		}
	}

	return cal.Serialize(), nil
}
