package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// jobColumns is the canonical column list shared by every job query.
// Keep it in sync with scanJob.
const jobColumns = `
	id, tenant_id, initiated_by, target_resource_id, model_type,
	priority, status, scheduled_for, started_at, completed_at,
	progress, current_stage, attempt_count, max_attempts, next_retry_at,
	processing_log, error_history, worker_id, session_id, results,
	timeout_budget, version, created_at, updated_at`

// encodeJSON marshals the record's JSONB columns. The results column
// stays NULL until the job completes.
func encodeJSON(r *job.Record) (logJSON, histJSON, resultsJSON []byte, err error) {
	logJSON, err = json.Marshal(r.ProcessingLog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("recq/postgres: marshal processing log: %w", err)
	}
	histJSON, err = json.Marshal(r.ErrorHistory)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("recq/postgres: marshal error history: %w", err)
	}
	if r.Results != nil {
		resultsJSON, err = json.Marshal(r.Results)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("recq/postgres: marshal results: %w", err)
		}
	}
	return logJSON, histJSON, resultsJSON, nil
}

// jobArgs flattens a record into the positional argument list matching
// jobColumns.
func jobArgs(r *job.Record) ([]any, error) {
	logJSON, histJSON, resultsJSON, err := encodeJSON(r)
	if err != nil {
		return nil, err
	}

	return []any{
		r.ID.String(), r.TenantID, r.InitiatedBy, r.TargetResourceID, string(r.ModelType),
		int(r.Priority), string(r.Status), r.ScheduledFor, r.StartedAt, r.CompletedAt,
		r.Progress, r.CurrentStage, r.AttemptCount, r.MaxAttempts, r.NextRetryAt,
		logJSON, histJSON, r.WorkerID.String(), r.SessionID.String(), resultsJSON,
		r.TimeoutBudget.Nanoseconds(), r.Version, r.CreatedAt, r.UpdatedAt,
	}, nil
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Record, error) {
	var (
		r          job.Record
		idStr      string
		modelStr   string
		statusStr  string
		logJSON    []byte
		histJSON   []byte
		workerStr  string
		sessionStr string
		resultJSON []byte
		budgetNs   int64
	)
	err := row.Scan(
		&idStr, &r.TenantID, &r.InitiatedBy, &r.TargetResourceID, &modelStr,
		&r.Priority, &statusStr, &r.ScheduledFor, &r.StartedAt, &r.CompletedAt,
		&r.Progress, &r.CurrentStage, &r.AttemptCount, &r.MaxAttempts, &r.NextRetryAt,
		&logJSON, &histJSON, &workerStr, &sessionStr, &resultJSON,
		&budgetNs, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ModelType = job.ModelType(modelStr)
	r.Status = job.Status(statusStr)
	r.TimeoutBudget = time.Duration(budgetNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("recq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	if workerStr != "" {
		if w, werr := id.ParseWorkerID(workerStr); werr == nil {
			r.WorkerID = w
		}
	}
	if sessionStr != "" {
		if s, serr := id.ParseSessionID(sessionStr); serr == nil {
			r.SessionID = s
		}
	}

	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &r.ProcessingLog); err != nil {
			return nil, fmt.Errorf("recq/postgres: unmarshal processing log: %w", err)
		}
	}
	if len(histJSON) > 0 {
		if err := json.Unmarshal(histJSON, &r.ErrorHistory); err != nil {
			return nil, fmt.Errorf("recq/postgres: unmarshal error history: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var results job.Results
		if err := json.Unmarshal(resultJSON, &results); err != nil {
			return nil, fmt.Errorf("recq/postgres: unmarshal results: %w", err)
		}
		r.Results = &results
	}

	return &r, nil
}

// collectJobs collects all records from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Record, error) {
	var jobs []*job.Record
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("recq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
