package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/shared"
)

// changelogKey is the attributes slot where field-level edit history
// accumulates. Kept inside attributes so the canonical schema stays flat.
const changelogKey = "changelog"

// upsertSnapshot applies a created event: the payload is a full snapshot of
// the entity, written create-or-update so a replayed or late "created" event
// converges instead of erroring.
func (s *Service) upsertSnapshot(ctx context.Context, rec canonical.Record) error {
	return s.store.Upsert(ctx, rec)
}

// updateTask applies an updated event to a task. An update for a row this
// tenant never saw is treated as a create, which heals gaps left by
// out-of-order delivery or a webhook registered before the first sync.
func (s *Service) updateTask(ctx context.Context, tenantID uuid.UUID, incoming *canonical.Task) error {
	existing, err := s.store.FindTask(ctx, tenantID, incoming.Ref())
	if errors.Is(err, shared.ErrNotFound) {
		return s.store.Upsert(ctx, incoming)
	}
	if err != nil {
		return err
	}

	changed := mergeTask(existing, incoming, s.now())
	if !changed {
		return nil
	}
	return s.store.Upsert(ctx, existing)
}

// mergeTask folds the incoming snapshot into the existing task, re-deriving
// the normalized fields, and appends a changelog entry naming the fields
// that differed. Returns false when nothing changed.
func mergeTask(existing, incoming *canonical.Task, at time.Time) bool {
	var fields []string

	if incoming.Title != "" && incoming.Title != existing.Title {
		existing.Title = incoming.Title
		fields = append(fields, "title")
	}
	if incoming.Description != existing.Description {
		existing.Description = incoming.Description
		fields = append(fields, "description")
	}
	if incoming.Status != "" && incoming.Status != existing.Status {
		existing.Status = incoming.Status
		fields = append(fields, "status")
	}
	if incoming.Priority != "" && incoming.Priority != existing.Priority {
		existing.Priority = incoming.Priority
		fields = append(fields, "priority")
	}
	if incoming.Assignee != existing.Assignee {
		existing.Assignee = incoming.Assignee
		fields = append(fields, "assignee")
	}
	if !equalTimePtr(incoming.DueAt, existing.DueAt) {
		existing.DueAt = incoming.DueAt
		fields = append(fields, "due_at")
	}
	if incoming.ContainerID != nil {
		existing.ContainerID = incoming.ContainerID
	}

	if existing.Attributes == nil {
		existing.Attributes = canonical.Attributes{}
	}
	for key, value := range incoming.Attributes {
		existing.Attributes[key] = value
	}

	if len(fields) == 0 {
		return false
	}
	appendChangelog(existing.Attributes, at, fields)
	return true
}

// updateFeedItem applies an updated event to a feedback post, self-healing
// when the post was never synced
func (s *Service) updateFeedItem(ctx context.Context, tenantID uuid.UUID, incoming *canonical.FeedItem) error {
	existing, err := s.store.FindFeedItem(ctx, tenantID, incoming.Ref())
	if errors.Is(err, shared.ErrNotFound) {
		return s.store.Upsert(ctx, incoming)
	}
	if err != nil {
		return err
	}

	var fields []string
	if incoming.Title != "" && incoming.Title != existing.Title {
		existing.Title = incoming.Title
		fields = append(fields, "title")
	}
	if incoming.Body != existing.Body {
		existing.Body = incoming.Body
		fields = append(fields, "body")
	}
	if incoming.Status != "" && incoming.Status != existing.Status {
		existing.Status = incoming.Status
		fields = append(fields, "status")
	}
	if incoming.Score != existing.Score {
		existing.Score = incoming.Score
		fields = append(fields, "score")
	}

	if existing.Attributes == nil {
		existing.Attributes = canonical.Attributes{}
	}
	for key, value := range incoming.Attributes {
		existing.Attributes[key] = value
	}

	if len(fields) == 0 {
		return nil
	}
	appendChangelog(existing.Attributes, s.now(), fields)
	return s.store.Upsert(ctx, existing)
}

// updateMessage applies an edit to a chat message
func (s *Service) updateMessage(ctx context.Context, tenantID uuid.UUID, incoming *canonical.Message) error {
	existing, err := s.store.FindMessage(ctx, tenantID, incoming.Ref())
	if errors.Is(err, shared.ErrNotFound) {
		return s.store.Upsert(ctx, incoming)
	}
	if err != nil {
		return err
	}

	if incoming.Body == existing.Body {
		return nil
	}
	existing.Body = incoming.Body
	if existing.Attributes == nil {
		existing.Attributes = canonical.Attributes{}
	}
	existing.Attributes["edited"] = true
	appendChangelog(existing.Attributes, s.now(), []string{"body"})
	return s.store.Upsert(ctx, existing)
}

// deleteRecord applies a deleted event. Deleting a row that was never synced
// (or was already deleted by a replayed event) succeeds silently.
func (s *Service) deleteRecord(ctx context.Context, tenantID uuid.UUID, kind canonical.EntityKind, ref canonical.ExternalRef) error {
	return s.store.DeleteByRef(ctx, tenantID, kind, ref)
}

// patchTaskCommentCount adjusts the comment counter inside a task's
// attributes. A counter event for an unknown task is a benign no-op.
func (s *Service) patchTaskCommentCount(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef, delta int) error {
	task, err := s.store.FindTask(ctx, tenantID, ref)
	if errors.Is(err, shared.ErrNotFound) {
		s.logger.Debug("comment event for unknown task",
			zap.String("external_id", ref.ExternalID),
			zap.String("source_tool", string(ref.SourceTool)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	if task.Attributes == nil {
		task.Attributes = canonical.Attributes{}
	}
	bumpCounter(task.Attributes, "comment_count", delta)
	return s.store.Upsert(ctx, task)
}

// patchFeedItemCommentCount adjusts the comment counter on a feedback post
func (s *Service) patchFeedItemCommentCount(ctx context.Context, tenantID uuid.UUID, ref canonical.ExternalRef, delta int) error {
	item, err := s.store.FindFeedItem(ctx, tenantID, ref)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if item.Attributes == nil {
		item.Attributes = canonical.Attributes{}
	}
	bumpCounter(item.Attributes, "comment_count", delta)
	return s.store.Upsert(ctx, item)
}

// appendChangelog records which fields an event changed. Entries accumulate
// under the changelog attribute as {at, fields} objects.
func appendChangelog(attrs canonical.Attributes, at time.Time, fields []string) {
	entry := map[string]any{
		"at":     at.UTC().Format(time.RFC3339),
		"fields": fields,
	}
	switch log := attrs[changelogKey].(type) {
	case []any:
		attrs[changelogKey] = append(log, entry)
	default:
		attrs[changelogKey] = []any{entry}
	}
}

// bumpCounter adjusts an integer counter stored in attributes, clamping at
// zero. JSON round-trips numbers as float64, so both forms are accepted.
func bumpCounter(attrs canonical.Attributes, key string, delta int) {
	current := 0
	switch v := attrs[key].(type) {
	case int:
		current = v
	case float64:
		current = int(v)
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	attrs[key] = next
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
