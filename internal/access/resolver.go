// Package access answers the two authorization questions of the safety
// journal: is this user a checker (FULL access to the tool, directly or
// through position/group), and is this user listed as responsible for a
// branch by the external journal service.
package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/cache"
	"partner_portal/internal/directory"
	"partner_portal/internal/journals"
	"partner_portal/internal/models"
)

// ToolLink identifies the safety-journal tool in the tools table.
const ToolLink = "jurists/safety"

const (
	checkerTTL      = 5 * time.Minute
	responsibleTTL  = 5 * time.Minute
	respListTTL     = 30 * time.Second
	timeoutCooldown = 30 * time.Second
)

type Resolver struct {
	DB       *gorm.DB
	Journals *journals.Client
	Log      *zap.Logger

	checkerCache     *cache.Cache[bool]
	responsibleCache *cache.Cache[bool]
	respListCache    *cache.Cache[[]journals.BranchResponsibles]
}

func NewResolver(db *gorm.DB, jc *journals.Client, log *zap.Logger) *Resolver {
	return &Resolver{
		DB:               db,
		Journals:         jc,
		Log:              log,
		checkerCache:     cache.New[bool](checkerTTL),
		responsibleCache: cache.New[bool](responsibleTTL),
		respListCache:    cache.New[[]journals.BranchResponsibles](respListTTL),
	}
}

// tool returns the safety tool row, or nil when it is not configured.
func (r *Resolver) tool() (*models.Tool, error) {
	var tools []models.Tool
	if err := r.DB.Where("link = ?", ToolLink).Limit(1).Find(&tools).Error; err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		return nil, nil
	}
	return &tools[0], nil
}

// ToolID returns the safety tool id, or empty when not configured.
func (r *Resolver) ToolID() (string, error) {
	tool, err := r.tool()
	if err != nil || tool == nil {
		return "", err
	}
	return tool.ID, nil
}

// IsChecker walks the grant chain for one user: SUPERVISOR override, then a
// direct USER grant, then the user's position grant. Results are cached for
// a few minutes; grants change rarely and there is no invalidation API.
func (r *Resolver) IsChecker(userID string) (bool, error) {
	if ok, hit := r.checkerCache.Get(userID); hit {
		return ok, nil
	}

	res, err := r.isCheckerUncached(userID)
	if err != nil {
		return false, err
	}
	r.checkerCache.Set(userID, res)
	return res, nil
}

func (r *Resolver) isCheckerUncached(userID string) (bool, error) {
	var user models.User
	if err := r.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Role == models.RoleSupervisor {
		return true, nil
	}

	tool, err := r.tool()
	if err != nil || tool == nil {
		return false, err
	}

	var direct int64
	err = r.DB.Model(&models.UserToolAccess{}).
		Where("user_id = ? AND tool_id = ? AND access_level = ?", userID, tool.ID, models.AccessFull).
		Count(&direct).Error
	if err != nil {
		return false, err
	}
	if direct > 0 {
		return true, nil
	}

	// Position grants reach the user through the staff directory email link.
	var staff []models.StaffRecord
	err = r.DB.Where("LOWER(email) = ?", strings.ToLower(user.Email)).Limit(1).Find(&staff).Error
	if err != nil {
		return false, err
	}
	if len(staff) == 0 || staff[0].PositionID == "" {
		return false, nil
	}

	var byPosition int64
	err = r.DB.Model(&models.PositionToolAccess{}).
		Where("position_id = ? AND tool_id = ? AND access_level = ?", staff[0].PositionID, tool.ID, models.AccessFull).
		Count(&byPosition).Error
	if err != nil {
		return false, err
	}
	return byPosition > 0, nil
}

// AllCheckers computes the full checker set as batched set lookups:
// supervisors, direct user grants, position grants and group grants (groups
// own positions, positions own users via staff emails). Cheap enough for a
// per-request hot path.
func (r *Resolver) AllCheckers() (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	var supervisorIDs []string
	err := r.DB.Model(&models.User{}).
		Where("role = ?", models.RoleSupervisor).
		Pluck("id", &supervisorIDs).Error
	if err != nil {
		return nil, err
	}
	for _, id := range supervisorIDs {
		ids[id] = struct{}{}
	}

	tool, err := r.tool()
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return ids, nil
	}

	var grantedUserIDs []string
	err = r.DB.Model(&models.UserToolAccess{}).
		Where("tool_id = ? AND access_level = ?", tool.ID, models.AccessFull).
		Pluck("user_id", &grantedUserIDs).Error
	if err != nil {
		return nil, err
	}
	for _, id := range grantedUserIDs {
		ids[id] = struct{}{}
	}

	var positionIDs []string
	err = r.DB.Model(&models.PositionToolAccess{}).
		Where("tool_id = ? AND access_level = ?", tool.ID, models.AccessFull).
		Pluck("position_id", &positionIDs).Error
	if err != nil {
		return nil, err
	}

	var groupIDs []string
	err = r.DB.Model(&models.GroupToolAccess{}).
		Where("tool_id = ? AND access_level = ?", tool.ID, models.AccessFull).
		Pluck("group_id", &groupIDs).Error
	if err != nil {
		return nil, err
	}
	if len(groupIDs) > 0 {
		var groupPositionIDs []string
		err = r.DB.Model(&models.Position{}).
			Where("group_uuid IN ?", groupIDs).
			Pluck("uuid", &groupPositionIDs).Error
		if err != nil {
			return nil, err
		}
		positionIDs = append(positionIDs, groupPositionIDs...)
	}

	if len(positionIDs) > 0 {
		var emails []string
		err = r.DB.Model(&models.StaffRecord{}).
			Where("position_id IN ?", positionIDs).
			Pluck("email", &emails).Error
		if err != nil {
			return nil, err
		}
		if len(emails) > 0 {
			for i := range emails {
				emails[i] = strings.ToLower(emails[i])
			}
			var positionUserIDs []string
			err = r.DB.Model(&models.User{}).
				Where("LOWER(email) IN ?", emails).
				Pluck("id", &positionUserIDs).Error
			if err != nil {
				return nil, err
			}
			for _, id := range positionUserIDs {
				ids[id] = struct{}{}
			}
		}
	}

	return ids, nil
}

// CheckerUsers hydrates AllCheckers into user rows ordered by name.
func (r *Resolver) CheckerUsers() ([]models.User, error) {
	ids, err := r.AllCheckers()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}

	var users []models.User
	if err := r.DB.Where("id IN ?", list).Order("name ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// FirstFullGrantUserID returns the earliest-granted FULL user on the tool,
// ordered by grant creation time then id so the choice is deterministic.
func (r *Resolver) FirstFullGrantUserID() (string, error) {
	tool, err := r.tool()
	if err != nil || tool == nil {
		return "", err
	}

	var grants []models.UserToolAccess
	err = r.DB.Where("tool_id = ? AND access_level = ?", tool.ID, models.AccessFull).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&grants).Error
	if err != nil || len(grants) == 0 {
		return "", err
	}
	return grants[0].UserID, nil
}

// FirstSupervisorID returns the oldest SUPERVISOR account, if any.
func (r *Resolver) FirstSupervisorID() (string, error) {
	var users []models.User
	err := r.DB.Where("role = ?", models.RoleSupervisor).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&users).Error
	if err != nil || len(users) == 0 {
		return "", err
	}
	return users[0].ID, nil
}

// BranchResponsibles returns the responsible records and the upstream's
// branch name for one branch, through the short-TTL list cache.
func (r *Resolver) BranchResponsibles(ctx context.Context, token, branchID string) ([]journals.Responsible, string, error) {
	payload, hit := r.respListCache.Get(branchID)
	if !hit {
		var err error
		payload, err = r.Journals.BranchResponsibles(ctx, token, branchID)
		if err != nil {
			return nil, "", err
		}
		r.respListCache.Set(branchID, payload)
	}

	for _, b := range payload {
		if b.BranchID == branchID {
			return b.Responsibles, b.BranchName, nil
		}
	}
	return nil, "", nil
}

// IsResponsibleForBranch checks the responsible list for the user, in
// order: id equality, email equality, id via staff code, email via staff
// row, first-name-of-fio. On an upstream timeout the (user,branch) key
// enters a cooldown and the answer degrades to false so a slow upstream
// cannot stack timeouts across requests.
func (r *Resolver) IsResponsibleForBranch(ctx context.Context, userID, branchID, token string) bool {
	key := userID + ":" + branchID
	if res, hit := r.responsibleCache.Get(key); hit {
		return res
	}
	if r.responsibleCache.InCooldown(key) {
		return false
	}

	resps, _, err := r.BranchResponsibles(ctx, token, branchID)
	if err != nil {
		if journals.IsTimeout(err) {
			r.responsibleCache.StartCooldown(key, timeoutCooldown)
		}
		r.Log.Warn("responsible check degraded to false",
			zap.String("userId", userID),
			zap.String("branchId", branchID),
			zap.Error(err))
		return false
	}

	res, err := r.matchesResponsible(userID, resps)
	if err != nil {
		r.Log.Warn("responsible check failed", zap.String("userId", userID), zap.Error(err))
		return false
	}
	r.responsibleCache.Set(key, res)
	return res
}

func (r *Resolver) matchesResponsible(userID string, resps []journals.Responsible) (bool, error) {
	if len(resps) == 0 {
		return false, nil
	}

	var user models.User
	if err := r.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	userEmail := strings.ToLower(user.Email)

	var ids, emails []string
	for _, resp := range resps {
		if resp.EmployeeID != "" {
			ids = append(ids, resp.EmployeeID)
		}
		if resp.EmployeeEmail != "" {
			emails = append(emails, strings.ToLower(resp.EmployeeEmail))
		}
	}

	staffByCode := make(map[string]string) // code → email
	staffByEmail := make(map[string]bool)  // staff row exists for email
	if len(ids) > 0 || len(emails) > 0 {
		q := r.DB.Model(&models.StaffRecord{})
		switch {
		case len(ids) > 0 && len(emails) > 0:
			q = q.Where("code IN ? OR LOWER(email) IN ?", ids, emails)
		case len(ids) > 0:
			q = q.Where("code IN ?", ids)
		default:
			q = q.Where("LOWER(email) IN ?", emails)
		}
		var staff []models.StaffRecord
		if err := q.Find(&staff).Error; err != nil {
			return false, err
		}
		for _, s := range staff {
			if s.Code != "" {
				staffByCode[s.Code] = strings.ToLower(s.Email)
			}
			if s.Email != "" {
				staffByEmail[strings.ToLower(s.Email)] = true
			}
		}
	}

	for _, resp := range resps {
		if resp.EmployeeID == userID {
			return true, nil
		}
		respEmail := strings.ToLower(resp.EmployeeEmail)
		if respEmail != "" && respEmail == userEmail {
			return true, nil
		}
		if resp.EmployeeID != "" && staffByCode[resp.EmployeeID] == userEmail && userEmail != "" {
			return true, nil
		}
		if respEmail != "" && staffByEmail[respEmail] && respEmail == userEmail {
			return true, nil
		}
		if resp.EmployeeName != "" {
			ok, err := r.nameMatchesUser(resp.EmployeeName, userEmail)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// nameMatchesUser checks whether a staff row whose FIO contains the first
// token of the reported name carries the user's own email.
func (r *Resolver) nameMatchesUser(name, userEmail string) (bool, error) {
	fields := strings.Fields(name)
	if len(fields) == 0 || userEmail == "" {
		return false, nil
	}

	var count int64
	err := r.DB.Model(&models.StaffRecord{}).
		Where("fio LIKE ?", "%"+fields[0]+"%").
		Where("LOWER(email) = ?", userEmail).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MatchResponsibles resolves a branch's responsible list to local users,
// through the per-request cache.
func (r *Resolver) MatchResponsibles(resps []journals.Responsible, rc directory.RequestCache) (map[string]*models.User, []journals.Responsible, error) {
	return directory.Matcher{DB: r.DB}.MatchBatch(resps, rc)
}
