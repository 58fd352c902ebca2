package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

const (
	maxCodeLength      = 64
	issueCodeAttempts  = 3
	dailyLimitWindow   = 24 * time.Hour
	defaultHistorySize = 50
	MaxTicketBatch     = 100
)

type ClaimResult struct {
	Resource *domain.Resource
	Scan     *domain.Scan
}

type IssueInput struct {
	Type       domain.ResourceType
	Payload    json.RawMessage
	OneTime    *bool
	ExpiresAt  *time.Time
	AssignedTo *uint
}

// DailyUsage reports the rolling 24h generic issuing budget of one user.
type DailyUsage struct {
	Limit     int   `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

type HistoryKind string

const (
	HistoryGenerated HistoryKind = "generated"
	HistoryScanned   HistoryKind = "scanned"
)

type HistoryEntry struct {
	Kind     HistoryKind      `json:"kind"`
	At       time.Time        `json:"at"`
	Resource *domain.Resource `json:"resource"`
}

type ClaimServiceConfig struct {
	DailyGenericLimit int
	UnknownCodeTTL    time.Duration
}

// ClaimService owns issuing and the claim-exactly-once protocol for resources.
type ClaimService struct {
	resources repository.ResourceRepository
	settings  repository.SettingsRepository
	unknown   UnknownCodeCache
	publisher events.Publisher
	logger    *slog.Logger
	cfg       ClaimServiceConfig
	now       func() time.Time
	newCode   func() string
}

func NewClaimService(
	resources repository.ResourceRepository,
	settings repository.SettingsRepository,
	unknown UnknownCodeCache,
	publisher events.Publisher,
	logger *slog.Logger,
	cfg ClaimServiceConfig,
) *ClaimService {
	if unknown == nil {
		unknown = NoopUnknownCodeCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DailyGenericLimit <= 0 {
		cfg.DailyGenericLimit = 50
	}
	if cfg.UnknownCodeTTL <= 0 {
		cfg.UnknownCodeTTL = 30 * time.Second
	}
	return &ClaimService{
		resources: resources,
		settings:  settings,
		unknown:   unknown,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newCode:   func() string { return ksuid.New().String() },
	}
}

// Claim validates a code for the caller. Checks run in a fixed order: lookup,
// policy, used state, expiry, then the conditional write. Losing the write to
// a concurrent claimant is reported as ErrAlreadyUsed.
func (s *ClaimService) Claim(ctx context.Context, code string, actor Identity) (*ClaimResult, error) {
	ctx, span := observability.StartSpan(ctx, "claim_service.claim")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" || len(code) > maxCodeLength {
		return nil, Validation("invalid_code", "code is required")
	}
	if !actor.Can(domain.CapClaimResource) {
		return nil, ErrForbidden
	}

	res, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	result, err := s.claim(ctx, res, actor)
	observability.RecordClaimOutcome(ctx, string(res.Type), claimOutcome(err))
	if err != nil {
		return nil, err
	}

	_ = s.publisher.Publish(ctx, events.New(events.TypeResourceClaimed, map[string]any{
		"resource_id": result.Resource.ID,
		"type":        result.Resource.Type,
		"one_time":    result.Resource.OneTime,
		"claimed_by":  actor.UserID,
		"scan_id":     result.Scan.ID,
	}))
	return result, nil
}

func (s *ClaimService) lookup(ctx context.Context, code string) (*domain.Resource, error) {
	if miss, err := s.unknown.IsUnknown(ctx, code); err != nil {
		s.logger.WarnContext(ctx, "unknown code cache read failed", "error", err)
	} else if miss {
		observability.RecordClaimOutcome(ctx, "unknown", "not_found")
		return nil, ErrResourceNotFound
	}
	res, err := s.resources.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrResourceNotFound) {
		if cerr := s.unknown.MarkUnknown(ctx, code, s.cfg.UnknownCodeTTL); cerr != nil {
			s.logger.WarnContext(ctx, "unknown code cache write failed", "error", cerr)
		}
		observability.RecordClaimOutcome(ctx, "unknown", "not_found")
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return res, nil
}

func (s *ClaimService) claim(ctx context.Context, res *domain.Resource, actor Identity) (*ClaimResult, error) {
	if res.Type == domain.ResourcePage {
		return nil, ErrPageNotClaimable
	}
	if !canClaim(res, actor) {
		return nil, ErrClaimForbidden
	}
	now := s.now()
	if !res.IsValid {
		return nil, ErrAlreadyUsed
	}
	if res.Expired(now) {
		return nil, ErrResourceExpired
	}

	if !res.OneTime {
		scan, err := s.resources.AppendScan(ctx, res.ID, actor.UserID, now)
		if err != nil {
			return nil, fmt.Errorf("append scan: %w", err)
		}
		return &ClaimResult{Resource: res, Scan: scan}, nil
	}

	claimed, scan, err := s.resources.ClaimOneTime(ctx, res.ID, actor.UserID, now)
	if errors.Is(err, repository.ErrResourceConsumed) {
		return nil, ErrAlreadyUsed
	}
	if err != nil {
		return nil, fmt.Errorf("claim resource: %w", err)
	}
	return &ClaimResult{Resource: claimed, Scan: scan}, nil
}

func canClaim(res *domain.Resource, actor Identity) bool {
	if actor.Can(domain.CapBypassOwnership) {
		return true
	}
	if res.CreatedBy == actor.UserID {
		return true
	}
	return res.AssignedTo != nil && *res.AssignedTo == actor.UserID
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrResourceExpired):
		return "expired"
	case errors.Is(err, ErrClaimForbidden), errors.Is(err, ErrPageNotClaimable):
		return "forbidden"
	default:
		return "error"
	}
}

// Issue creates a resource owned by the caller. Generic resources count
// against a rolling 24h per-user limit.
func (s *ClaimService) Issue(ctx context.Context, actor Identity, in IssueInput) (*domain.Resource, error) {
	if !actor.Can(domain.CapIssueResource) {
		return nil, ErrForbidden
	}
	if in.Type == "" {
		in.Type = domain.ResourceGeneric
	}
	if !in.Type.Valid() {
		return nil, Validation("invalid_type", "type must be one of generic, ticket, bracelet, page")
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return nil, Validation("invalid_payload", "payload must be valid JSON")
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, Validation("invalid_expiry", "expiresAt must be in the future")
	}
	oneTime := true
	if in.OneTime != nil {
		oneTime = *in.OneTime
	}
	if in.Type == domain.ResourcePage {
		oneTime = false
	}

	if in.Type == domain.ResourceGeneric {
		if err := s.checkDailyLimit(ctx, actor.UserID, now); err != nil {
			return nil, err
		}
	}

	res := &domain.Resource{
		Type:       in.Type,
		CreatedBy:  actor.UserID,
		AssignedTo: in.AssignedTo,
		Payload:    datatypes.JSON(in.Payload),
		IsValid:    true,
		OneTime:    oneTime,
		ExpiresAt:  in.ExpiresAt,
	}
	var err error
	for attempt := 0; attempt < issueCodeAttempts; attempt++ {
		res.ID = 0
		res.Code = s.newCode()
		if err = s.resources.Create(ctx, res); !errors.Is(err, repository.ErrCodeTaken) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	if err := s.unknown.Forget(ctx, res.Code); err != nil {
		s.logger.WarnContext(ctx, "unknown code cache forget failed", "error", err)
	}

	_ = s.publisher.Publish(ctx, events.New(events.TypeResourceIssued, map[string]any{
		"resource_id": res.ID,
		"type":        res.Type,
		"one_time":    res.OneTime,
		"created_by":  actor.UserID,
	}))
	return res, nil
}

func (s *ClaimService) DefaultDailyLimit() int { return s.cfg.DailyGenericLimit }

// DailyLimit is the generic issuing limit in effect for userID.
func (s *ClaimService) DailyLimit(ctx context.Context, userID uint) (int, error) {
	if s.settings == nil {
		return s.cfg.DailyGenericLimit, nil
	}
	st, err := s.settings.Get(ctx, userID)
	if errors.Is(err, repository.ErrSettingsNotFound) {
		return s.cfg.DailyGenericLimit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	if st.DailyGenericLimit == nil || *st.DailyGenericLimit <= 0 {
		return s.cfg.DailyGenericLimit, nil
	}
	return *st.DailyGenericLimit, nil
}

// DailyUsage counts generic resources userID created in the last 24h against
// the limit in effect.
func (s *ClaimService) DailyUsage(ctx context.Context, userID uint) (DailyUsage, error) {
	return s.dailyUsage(ctx, userID, s.now())
}

func (s *ClaimService) dailyUsage(ctx context.Context, userID uint, now time.Time) (DailyUsage, error) {
	limit, err := s.DailyLimit(ctx, userID)
	if err != nil {
		return DailyUsage{}, err
	}
	n, err := s.resources.CountCreatedSince(ctx, userID, domain.ResourceGeneric, now.Add(-dailyLimitWindow))
	if err != nil {
		return DailyUsage{}, fmt.Errorf("count issued resources: %w", err)
	}
	return DailyUsage{Limit: limit, Used: n, Remaining: max(int64(limit)-n, 0)}, nil
}

func (s *ClaimService) checkDailyLimit(ctx context.Context, userID uint, now time.Time) error {
	usage, err := s.dailyUsage(ctx, userID, now)
	if err != nil {
		return err
	}
	if usage.Remaining == 0 {
		return ErrDailyLimitReached
	}
	return nil
}

// IssueBatch creates quantity one-time tickets for eventID handed to holder.
// All of them are written or none is. Callers check the event and holder.
func (s *ClaimService) IssueBatch(ctx context.Context, issuer, holder, eventID uint, quantity int) ([]domain.Resource, error) {
	ctx, span := observability.StartSpan(ctx, "claim_service.issue_batch")
	defer span.End()

	if quantity < 1 || quantity > MaxTicketBatch {
		return nil, ErrInvalidQuantity
	}
	batch := make([]*domain.Resource, quantity)
	for i := range batch {
		batch[i] = &domain.Resource{
			Type:       domain.ResourceTicket,
			CreatedBy:  issuer,
			AssignedTo: &holder,
			EventID:    &eventID,
			IsValid:    true,
			OneTime:    true,
		}
	}
	var err error
	for attempt := 0; attempt < issueCodeAttempts; attempt++ {
		for _, res := range batch {
			res.ID = 0
			res.Code = s.newCode()
		}
		if err = s.resources.CreateBatch(ctx, batch); !errors.Is(err, repository.ErrCodeTaken) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create ticket batch: %w", err)
	}

	out := make([]domain.Resource, 0, quantity)
	for _, res := range batch {
		if err := s.unknown.Forget(ctx, res.Code); err != nil {
			s.logger.WarnContext(ctx, "unknown code cache forget failed", "error", err)
		}
		_ = s.publisher.Publish(ctx, events.New(events.TypeResourceIssued, map[string]any{
			"resource_id": res.ID,
			"type":        res.Type,
			"one_time":    res.OneTime,
			"created_by":  issuer,
			"event_id":    eventID,
		}))
		out = append(out, *res)
	}
	return out, nil
}

// Assigned lists tickets handed to the caller with their events.
func (s *ClaimService) Assigned(ctx context.Context, actor Identity, limit int) ([]domain.Resource, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	out, err := s.resources.ListAssignedTo(ctx, actor.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assigned: %w", err)
	}
	if out == nil {
		out = []domain.Resource{}
	}
	return out, nil
}

// History merges resources the caller generated with those it scanned,
// newest first.
func (s *ClaimService) History(ctx context.Context, actor Identity, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	created, err := s.resources.ListCreatedBy(ctx, actor.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generated: %w", err)
	}
	scans, err := s.resources.ListScansBy(ctx, actor.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scanned: %w", err)
	}

	out := make([]HistoryEntry, 0, len(created)+len(scans))
	for i := range created {
		out = append(out, HistoryEntry{Kind: HistoryGenerated, At: created[i].CreatedAt, Resource: &created[i]})
	}
	for i := range scans {
		if scans[i].Resource == nil {
			continue
		}
		out = append(out, HistoryEntry{Kind: HistoryScanned, At: scans[i].ScannedAt, Resource: scans[i].Resource})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].At.After(out[b].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Detail returns a resource to its creator or to anyone who scanned it.
func (s *ClaimService) Detail(ctx context.Context, actor Identity, resourceID uint) (*domain.Resource, error) {
	res, err := s.resources.FindByID(ctx, resourceID)
	if errors.Is(err, repository.ErrResourceNotFound) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find resource: %w", err)
	}
	if res.CreatedBy == actor.UserID || (res.AssignedTo != nil && *res.AssignedTo == actor.UserID) {
		return res, nil
	}
	scanned, err := s.resources.HasScanBy(ctx, resourceID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("check scan: %w", err)
	}
	if !scanned {
		return nil, ErrForbidden
	}
	return res, nil
}

// DeleteHistory removes the caller's scan entries for the resource; failing
// that, the resource itself when the caller generated it.
func (s *ClaimService) DeleteHistory(ctx context.Context, actor Identity, resourceID uint) error {
	n, err := s.resources.DeleteScansBy(ctx, resourceID, actor.UserID)
	if err != nil {
		return fmt.Errorf("delete scans: %w", err)
	}
	if n > 0 {
		return nil
	}
	deleted, err := s.resources.DeleteOwned(ctx, resourceID, actor.UserID)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	if !deleted {
		return ErrResourceNotFound
	}
	return nil
}
