package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"traindesk/internal/domain/retention"
	"traindesk/internal/platform/config"
	"traindesk/internal/platform/email"
)

const (
	JobRetentionSweep  = "retention_sweep"
	JobComplianceAudit = "compliance_audit"
)

// Service runs the background half of the lifecycle engine: periodic sweeps
// per organisation and cron-scheduled compliance audits. Every run is
// journaled in job_runs.
type Service struct {
	DB      *pgxpool.Pool
	Cfg     config.Config
	Engine  *retention.Engine
	Auditor *retention.Auditor
	Mailer  email.Mailer
	queue   chan job
	cron    *cron.Cron
}

type job struct {
	Type  string
	OrgID string
	Run   func(context.Context) (any, error)
}

func New(db *pgxpool.Pool, cfg config.Config, engine *retention.Engine, auditor *retention.Auditor, mailer email.Mailer) *Service {
	return &Service{
		DB:      db,
		Cfg:     cfg,
		Engine:  engine,
		Auditor: auditor,
		Mailer:  mailer,
		queue:   make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Cfg.SweepInterval > 0 {
		go s.scheduleSweeps(ctx, s.Cfg.SweepInterval)
	}
	if s.Cfg.AuditSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.Cfg.AuditSchedule, func() { s.enqueueAudits(ctx) }); err != nil {
			slog.Warn("audit schedule invalid", "schedule", s.Cfg.AuditSchedule, "err", err)
		} else {
			s.cron.Start()
			go func() {
				<-ctx.Done()
				s.cron.Stop()
			}()
		}
	}
}

func (s *Service) Enqueue(jobType, orgID string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, OrgID: orgID, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType, "orgId", orgID)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, orgID string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, OrgID: orgID, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "orgId", j.OrgID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (org_id, job_type, status)
    VALUES ($1,$2,$3)
    RETURNING id
  `, j.OrgID, j.Type, "running").Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orgs, err := s.listOrganisations(ctx)
			if err != nil {
				slog.Warn("sweep scheduler organisation lookup failed", "err", err)
				continue
			}
			for _, orgID := range orgs {
				org := orgID
				s.Enqueue(JobRetentionSweep, org, func(ctx context.Context) (any, error) {
					return s.Engine.SweepOrganisation(ctx, org)
				})
			}
		}
	}
}

func (s *Service) enqueueAudits(ctx context.Context) {
	orgs, err := s.listOrganisations(ctx)
	if err != nil {
		slog.Warn("audit scheduler organisation lookup failed", "err", err)
		return
	}
	for _, orgID := range orgs {
		org := orgID
		s.Enqueue(JobComplianceAudit, org, func(ctx context.Context) (any, error) {
			audits, err := s.Auditor.AuditOrganisation(ctx, org)
			if err != nil {
				return nil, err
			}
			s.notifyHighRisk(ctx, org, audits)
			return audits, nil
		})
	}
}

// notifyHighRisk mails the compliance contact when an audit lands in the
// high or critical band.
func (s *Service) notifyHighRisk(ctx context.Context, orgID string, audits []retention.ComplianceAudit) {
	if s.Mailer == nil || s.Cfg.ComplianceEmail == "" {
		return
	}
	var flagged []string
	for _, a := range audits {
		if a.RiskLevel == retention.RiskHigh || a.RiskLevel == retention.RiskCritical {
			flagged = append(flagged, fmt.Sprintf("%s: %s risk, %.1f%% compliant (%d overdue, %d errors)",
				a.DataType, a.RiskLevel, a.ComplianceRate, a.OverdueRecords, a.ErrorRecords))
		}
	}
	if len(flagged) == 0 {
		return
	}
	body := "Retention compliance audit flagged the following partitions:\n\n" + strings.Join(flagged, "\n")
	subject := fmt.Sprintf("Retention compliance alert for organisation %s", orgID)
	if err := s.Mailer.Send(ctx, s.Cfg.EmailFrom, s.Cfg.ComplianceEmail, subject, body); err != nil {
		slog.Warn("compliance alert mail failed", "orgId", orgID, "err", err)
	}
}

func (s *Service) listOrganisations(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM organisations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
