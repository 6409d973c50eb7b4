package workflow

import (
	"context"
	"sync"

	"github.com/garyjia/expense-approval/internal/domain/apperror"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// BulkDecide implements Engine. Tasks are decided concurrently, up to the
// configured concurrency, and each in its own transaction.
func (e *engineImpl) BulkDecide(ctx context.Context, taskIDs []string, decision entity.Decision, comments, actingUserID string) (*BulkResult, error) {
	if len(taskIDs) == 0 {
		return nil, apperror.Validation("at least one task id is required")
	}
	if e.maxBulk > 0 && len(taskIDs) > e.maxBulk {
		return nil, apperror.Validation("at most %d tasks may be decided at once, got %d", e.maxBulk, len(taskIDs))
	}
	if !decision.IsValid() {
		return nil, apperror.Validation("decision must be one of APPROVED, REJECTED, RETURNED, got %q", decision)
	}
	if actingUserID == "" {
		return nil, apperror.Validation("acting user is required")
	}

	errs := make([]error, len(taskIDs))
	sem := make(chan struct{}, e.bulkConcurrency)
	var wg sync.WaitGroup
	for i, id := range taskIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			_, errs[i] = e.Decide(ctx, id, decision, comments, actingUserID)
		}(i, id)
	}
	wg.Wait()

	result := &BulkResult{Success: []string{}, Failed: []BulkFailure{}}
	for i, id := range taskIDs {
		if errs[i] == nil {
			result.Success = append(result.Success, id)
			continue
		}
		result.Failed = append(result.Failed, BulkFailure{
			TaskID: id,
			Kind:   apperror.KindOf(errs[i]),
			Status: apperror.StatusOf(errs[i]),
			Error:  errs[i].Error(),
		})
	}

	e.logger.Info("Bulk decision applied",
		"decision", decision,
		"actor_id", actingUserID,
		"succeeded", len(result.Success),
		"failed", len(result.Failed))
	return result, nil
}
