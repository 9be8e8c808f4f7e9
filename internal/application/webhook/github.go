package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/connector"
)

// githubRepoRef is the repository envelope every GitHub event carries
type githubRepoRef struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type githubPushPayload struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
	Commits []struct {
		ID        string    `json:"id"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
		Author    struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commits"`
}

type githubPullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		ID     int64  `json:"id"`
		Number int    `json:"number"`
		State  string `json:"state"`
		Title  string `json:"title"`
		User   *struct {
			Login string `json:"login"`
		} `json:"user"`
		Head *struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base *struct {
			Ref string `json:"ref"`
		} `json:"base"`
		MergedAt *time.Time `json:"merged_at"`
		Draft    bool       `json:"draft"`
	} `json:"pull_request"`
}

type githubRefPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

// processGitHub handles GitHub hook deliveries. The X-Hub-Signature-256
// header authenticates the body against the per-integration hook secret, and
// a matching secret simultaneously identifies the tenant: signatures are
// tried against every GitHub integration until one verifies.
func (s *Service) processGitHub(ctx context.Context, req Request) (*Result, error) {
	presented := strings.TrimPrefix(req.Header.Get("X-Hub-Signature-256"), "sha256=")
	if presented == "" {
		return nil, integration.ErrWebhookSignature
	}

	integ, err := s.resolveBySignature(ctx, canonical.SourceToolGitHub, webhookSecretOf, func(secret string) string {
		return hmacHex(req.Body, secret)
	}, presented)
	if err != nil {
		return nil, err
	}

	if s.seenBefore(ctx, canonical.SourceToolGitHub, req.Header.Get("X-GitHub-Delivery")) {
		return ignored(KindIgnored), nil
	}

	var repoRef githubRepoRef
	if err := json.Unmarshal(req.Body, &repoRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	repo := repoRef.Repository.FullName
	if repo == "" {
		// ping and app-level events have no repository scope
		return ignored(KindIgnored), nil
	}

	container, err := s.containers.FindByRef(ctx, integ.TenantID, canonical.ExternalRef{
		ExternalID: repo,
		SourceTool: canonical.SourceToolGitHub,
	})
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("repository %q: %w", repo, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	switch event := req.Header.Get("X-GitHub-Event"); event {
	case "push":
		return s.applyGitHubPush(ctx, integ, container, req.Body)
	case "pull_request":
		return s.applyGitHubPullRequest(ctx, integ, container, req.Body)
	case "create", "delete":
		return s.applyGitHubRefChange(ctx, integ, container, event, req.Body)
	default:
		s.logger.Debug("ignoring github event", zap.String("event", event))
		return ignored(KindIgnored), nil
	}
}

// resolveBySignature finds the integration whose secret verifies the
// presented signature. Providers that sign with a per-integration secret
// make verification and tenant resolution the same lookup; the scan is
// linear over the provider's integrations.
func (s *Service) resolveBySignature(
	ctx context.Context,
	provider canonical.SourceTool,
	secretOf func(*integration.Integration) string,
	compute func(secret string) string,
	presented string,
) (*integration.Integration, error) {
	candidates, err := s.integrations.ListByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	for _, integ := range candidates {
		secret := secretOf(integ)
		if secret == "" {
			continue
		}
		if verifySignature(presented, compute(secret)) {
			return integ, nil
		}
	}
	return nil, integration.ErrWebhookSignature
}

func webhookSecretOf(integ *integration.Integration) string { return integ.WebhookSecret }

// applyGitHubPush writes every pushed commit and advances the branch head
func (s *Service) applyGitHubPush(ctx context.Context, integ *integration.Integration, container *canonical.Container, body []byte) (*Result, error) {
	var payload githubPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == payload.Ref {
		// tag pushes carry refs/tags/*; commits on tags are not tracked
		return ignored(KindIgnored), nil
	}
	branchRef := canonical.ExternalRef{
		ExternalID: container.ExternalID + ":" + branch,
		SourceTool: canonical.SourceToolGitHub,
	}

	if payload.Deleted {
		if err := s.deleteRecord(ctx, integ.TenantID, canonical.KindBranch, branchRef); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil
	}

	containerID := container.ID
	for _, pushed := range payload.Commits {
		if pushed.ID == "" {
			continue
		}
		commit := &canonical.Commit{
			TenantEntity: shared.NewTenantEntity(integ.TenantID),
			ExternalRef:  canonical.ExternalRef{ExternalID: pushed.ID, SourceTool: canonical.SourceToolGitHub},
			ContainerID:  &containerID,
			SHA:          pushed.ID,
			AuthorName:   pushed.Author.Name,
			AuthorEmail:  pushed.Author.Email,
			Message:      pushed.Message,
			CommittedAt:  pushed.Timestamp,
			Attributes:   canonical.Attributes{"repo": container.ExternalID},
		}
		if err := s.upsertSnapshot(ctx, commit); err != nil {
			return nil, err
		}
	}

	if payload.After != "" {
		head := &canonical.Branch{
			TenantEntity: shared.NewTenantEntity(integ.TenantID),
			ExternalRef:  branchRef,
			ContainerID:  &containerID,
			Name:         branch,
			HeadSHA:      payload.After,
			Attributes:   canonical.Attributes{},
		}
		if err := s.upsertSnapshot(ctx, head); err != nil {
			return nil, err
		}
	}
	return applied(KindCreated), nil
}

// applyGitHubPullRequest writes the full pull request snapshot the event carries
func (s *Service) applyGitHubPullRequest(ctx context.Context, integ *integration.Integration, container *canonical.Container, body []byte) (*Result, error) {
	var payload githubPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	pr := payload.PullRequest
	if pr.ID == 0 {
		return nil, fmt.Errorf("%w: pull_request event without id", ErrBadPayload)
	}

	containerID := container.ID
	rec := &canonical.PullRequest{
		TenantEntity: shared.NewTenantEntity(integ.TenantID),
		ExternalRef: canonical.ExternalRef{
			ExternalID: strconv.FormatInt(pr.ID, 10),
			SourceTool: canonical.SourceToolGitHub,
		},
		ContainerID: &containerID,
		Number:      pr.Number,
		Title:       pr.Title,
		Status:      connector.NormalizePullRequestState(pr.State, pr.MergedAt != nil),
		MergedAt:    pr.MergedAt,
		Attributes:  canonical.Attributes{"draft": pr.Draft},
	}
	if pr.User != nil {
		rec.Author = pr.User.Login
	}
	if pr.Head != nil {
		rec.SourceRef = pr.Head.Ref
	}
	if pr.Base != nil {
		rec.TargetRef = pr.Base.Ref
	}

	if err := s.upsertSnapshot(ctx, rec); err != nil {
		return nil, err
	}
	if payload.Action == "opened" {
		return applied(KindCreated), nil
	}
	return applied(KindUpdated), nil
}

// applyGitHubRefChange handles branch create and delete events. Head SHA is
// unknown at creation time; the next push fills it in.
func (s *Service) applyGitHubRefChange(ctx context.Context, integ *integration.Integration, container *canonical.Container, event string, body []byte) (*Result, error) {
	var payload githubRefPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if payload.RefType != "branch" {
		return ignored(KindIgnored), nil
	}

	ref := canonical.ExternalRef{
		ExternalID: container.ExternalID + ":" + payload.Ref,
		SourceTool: canonical.SourceToolGitHub,
	}
	if event == "delete" {
		if err := s.deleteRecord(ctx, integ.TenantID, canonical.KindBranch, ref); err != nil {
			return nil, err
		}
		return applied(KindDeleted), nil
	}

	containerID := container.ID
	branch := &canonical.Branch{
		TenantEntity: shared.NewTenantEntity(integ.TenantID),
		ExternalRef:  ref,
		ContainerID:  &containerID,
		Name:         payload.Ref,
		Attributes:   canonical.Attributes{},
	}
	if err := s.upsertSnapshot(ctx, branch); err != nil {
		return nil, err
	}
	return applied(KindCreated), nil
}
