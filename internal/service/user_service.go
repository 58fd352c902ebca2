package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

const maxDailyGenericLimit = 1000

type UserView struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUserView(u *domain.User) UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Roles:     domain.RoleStrings(u.RoleSet()),
		CreatedAt: u.CreatedAt,
	}
}

type CacheStatus struct {
	Hit bool
	Age time.Duration
}

type SettingsView struct {
	DailyGenericLimit int  `json:"daily_generic_limit"`
	Overridden        bool `json:"overridden"`
}

type UserService struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	settings  repository.SettingsRepository
	claims    *ClaimService
	listCache AdminListCacheStore
	cacheTTL  time.Duration
	logger    *slog.Logger
}

func NewUserService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	settings repository.SettingsRepository,
	claims *ClaimService,
	listCache AdminListCacheStore,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *UserService {
	if listCache == nil {
		listCache = NoopAdminListCacheStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:     users,
		roles:     roles,
		settings:  settings,
		claims:    claims,
		listCache: listCache,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

func (s *UserService) Me(ctx context.Context, userID uint) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *UserService) ListUsers(ctx context.Context, actor Identity, query repository.UserListQuery) (repository.PageResult[UserView], CacheStatus, error) {
	var out repository.PageResult[UserView]
	if !actor.Can(domain.CapManageUsers) {
		return out, CacheStatus{}, ErrForbidden
	}
	if query.Role != "" {
		role, err := domain.ParseRole(string(query.Role))
		if err != nil {
			return out, CacheStatus{}, Validation("invalid_role", err.Error())
		}
		query.Role = role
	}
	key := fmt.Sprintf("p=%d|s=%d|email=%s|role=%s", query.Page, query.PageSize, domain.NormalizeEmail(query.Email), query.Role)
	if status, ok := s.cached(ctx, NamespaceAdminUsers, key, &out); ok {
		return out, status, nil
	}

	page, err := s.users.ListPaged(ctx, query)
	if err != nil {
		return out, CacheStatus{}, fmt.Errorf("list users: %w", err)
	}
	out = repository.PageResult[UserView]{
		Items:      make([]UserView, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for i := range page.Items {
		out.Items = append(out.Items, NewUserView(&page.Items[i]))
	}
	s.store(ctx, NamespaceAdminUsers, key, out)
	return out, CacheStatus{}, nil
}

func (s *UserService) RoleCounts(ctx context.Context, actor Identity) ([]repository.RoleCount, CacheStatus, error) {
	var out []repository.RoleCount
	if !actor.Can(domain.CapManageUsers) {
		return nil, CacheStatus{}, ErrForbidden
	}
	if status, ok := s.cached(ctx, NamespaceAdminRoles, "all", &out); ok {
		return out, status, nil
	}
	out, err := s.roles.CountMembers(ctx)
	if err != nil {
		return nil, CacheStatus{}, fmt.Errorf("count roles: %w", err)
	}
	s.store(ctx, NamespaceAdminRoles, "all", out)
	return out, CacheStatus{}, nil
}

// InvalidateAdminListings drops cached user and role listings after any
// change to membership.
func (s *UserService) InvalidateAdminListings(ctx context.Context) {
	for _, ns := range []string{NamespaceAdminUsers, NamespaceAdminRoles} {
		if err := s.listCache.InvalidateNamespace(ctx, ns); err != nil {
			s.logger.WarnContext(ctx, "admin list cache invalidation failed", "namespace", ns, "error", err)
		}
	}
}

func (s *UserService) cached(ctx context.Context, namespace, key string, dst any) (CacheStatus, bool) {
	payload, ok, age, err := s.listCache.GetWithAge(ctx, namespace, key)
	if err != nil {
		s.logger.WarnContext(ctx, "admin list cache read failed", "namespace", namespace, "error", err)
		return CacheStatus{}, false
	}
	if !ok {
		return CacheStatus{}, false
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		s.logger.WarnContext(ctx, "admin list cache payload unreadable", "namespace", namespace, "error", err)
		return CacheStatus{}, false
	}
	return CacheStatus{Hit: true, Age: age}, true
}

func (s *UserService) store(ctx context.Context, namespace, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.listCache.Set(ctx, namespace, key, payload, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "admin list cache write failed", "namespace", namespace, "error", err)
	}
}

func (s *UserService) GetSettings(ctx context.Context, actor Identity) (SettingsView, error) {
	if !actor.Can(domain.CapManageOwnSettings) {
		return SettingsView{}, ErrForbidden
	}
	view := SettingsView{DailyGenericLimit: s.claims.DefaultDailyLimit()}
	st, err := s.settings.Get(ctx, actor.UserID)
	if errors.Is(err, repository.ErrSettingsNotFound) {
		return view, nil
	}
	if err != nil {
		return SettingsView{}, fmt.Errorf("load settings: %w", err)
	}
	if st.DailyGenericLimit != nil && *st.DailyGenericLimit > 0 {
		view.DailyGenericLimit = *st.DailyGenericLimit
		view.Overridden = true
	}
	return view, nil
}

// UpdateSettings stores a per-user daily limit; nil restores the default.
func (s *UserService) UpdateSettings(ctx context.Context, actor Identity, dailyGenericLimit *int) (SettingsView, error) {
	if !actor.Can(domain.CapManageOwnSettings) {
		return SettingsView{}, ErrForbidden
	}
	if dailyGenericLimit != nil && (*dailyGenericLimit < 1 || *dailyGenericLimit > maxDailyGenericLimit) {
		return SettingsView{}, Validation("invalid_daily_limit", fmt.Sprintf("daily_generic_limit must be between 1 and %d", maxDailyGenericLimit))
	}
	if err := s.settings.Upsert(ctx, &domain.UserSettings{UserID: actor.UserID, DailyGenericLimit: dailyGenericLimit}); err != nil {
		return SettingsView{}, fmt.Errorf("save settings: %w", err)
	}
	return s.GetSettings(ctx, actor)
}
