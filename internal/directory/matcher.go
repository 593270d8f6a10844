// Package directory resolves the ambiguous identity records the journal
// service reports ("responsibles": some subset of employee id, email and
// name) against local portal users via the staff directory.
package directory

import (
	"strings"

	"gorm.io/gorm"

	"partner_portal/internal/journals"
	"partner_portal/internal/models"
)

// RequestCache spans one logical operation (typically one HTTP request) so
// nested calls do not re-resolve the same identity. A present key with a nil
// user records a definite miss.
type RequestCache map[string]*models.User

func NewRequestCache() RequestCache { return make(RequestCache) }

// Key collapses a responsible record to its strongest identity field.
func Key(r journals.Responsible) string {
	switch {
	case r.EmployeeID != "":
		return r.EmployeeID
	case r.EmployeeEmail != "":
		return r.EmployeeEmail
	case r.EmployeeName != "":
		return r.EmployeeName
	default:
		return ""
	}
}

type Matcher struct {
	DB *gorm.DB
}

// MatchOne resolves a single responsible record.
func (m Matcher) MatchOne(resp journals.Responsible, rc RequestCache) (*models.User, error) {
	matched, _, err := m.MatchBatch([]journals.Responsible{resp}, rc)
	if err != nil {
		return nil, err
	}
	return matched[Key(resp)], nil
}

// MatchBatch resolves a whole responsible list with a bounded number of
// queries: one batched user fetch by id, one by email, one staff-directory
// fetch covering all codes and emails, plus a single targeted query per
// still-unmatched name. Records that resolve to no local user are returned
// separately so callers can surface them instead of dropping them.
func (m Matcher) MatchBatch(resps []journals.Responsible, rc RequestCache) (map[string]*models.User, []journals.Responsible, error) {
	matched := make(map[string]*models.User)
	var unmatched []journals.Responsible

	var pending []journals.Responsible
	for _, r := range resps {
		key := Key(r)
		if key == "" {
			unmatched = append(unmatched, r)
			continue
		}
		if u, ok := rc[key]; ok {
			if u != nil {
				matched[key] = u
			} else {
				unmatched = append(unmatched, r)
			}
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		return matched, unmatched, nil
	}

	var ids, emails []string
	for _, r := range pending {
		if r.EmployeeID != "" {
			ids = append(ids, r.EmployeeID)
		}
		if r.EmployeeEmail != "" {
			emails = append(emails, strings.ToLower(r.EmployeeEmail))
		}
	}

	userByID := make(map[string]*models.User)
	userByEmail := make(map[string]*models.User)
	if len(ids) > 0 {
		var users []models.User
		if err := m.DB.Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, nil, err
		}
		for i := range users {
			userByID[users[i].ID] = &users[i]
		}
	}
	if len(emails) > 0 {
		var users []models.User
		if err := m.DB.Where("LOWER(email) IN ?", emails).Find(&users).Error; err != nil {
			return nil, nil, err
		}
		for i := range users {
			userByEmail[strings.ToLower(users[i].Email)] = &users[i]
		}
	}

	staffByCode := make(map[string]*models.StaffRecord)
	staffByEmail := make(map[string]*models.StaffRecord)
	if len(ids) > 0 || len(emails) > 0 {
		q := m.DB.Model(&models.StaffRecord{})
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
			return nil, nil, err
		}
		for i := range staff {
			if staff[i].Code != "" {
				staffByCode[staff[i].Code] = &staff[i]
			}
			if staff[i].Email != "" {
				staffByEmail[strings.ToLower(staff[i].Email)] = &staff[i]
			}
		}
	}

	for _, r := range pending {
		key := Key(r)

		user, err := m.resolve(r, userByID, userByEmail, staffByCode, staffByEmail)
		if err != nil {
			return nil, nil, err
		}

		rc[key] = user
		if user != nil {
			matched[key] = user
		} else {
			unmatched = append(unmatched, r)
		}
	}

	return matched, unmatched, nil
}

// resolve walks the priority chain for one record: user by id, user by
// email, staff row by email, staff row by code, then the name fallback.
func (m Matcher) resolve(
	r journals.Responsible,
	userByID, userByEmail map[string]*models.User,
	staffByCode, staffByEmail map[string]*models.StaffRecord,
) (*models.User, error) {
	if r.EmployeeID != "" {
		if u, ok := userByID[r.EmployeeID]; ok {
			return u, nil
		}
	}

	email := strings.ToLower(r.EmployeeEmail)
	if email != "" {
		if u, ok := userByEmail[email]; ok {
			return u, nil
		}
		if staff, ok := staffByEmail[email]; ok {
			if u, err := m.userByEmail(staff.Email, userByEmail); err != nil || u != nil {
				return u, err
			}
		}
	}

	if r.EmployeeID != "" {
		if staff, ok := staffByCode[r.EmployeeID]; ok && staff.Email != "" {
			if u, err := m.userByEmail(staff.Email, userByEmail); err != nil || u != nil {
				return u, err
			}
		}
	}

	if r.EmployeeName != "" {
		return m.matchByName(r.EmployeeName, userByEmail)
	}
	return nil, nil
}

// matchByName is the least reliable strategy: find a staff row whose FIO
// contains the first token of the reported name, then the user behind its
// email. One targeted query per name.
func (m Matcher) matchByName(name string, userByEmail map[string]*models.User) (*models.User, error) {
	first := strings.Fields(name)
	if len(first) == 0 {
		return nil, nil
	}

	var staff []models.StaffRecord
	err := m.DB.Where("fio LIKE ?", "%"+first[0]+"%").
		Where("email <> ''").
		Limit(10).
		Find(&staff).Error
	if err != nil {
		return nil, err
	}

	for i := range staff {
		if u, err := m.userByEmail(staff[i].Email, userByEmail); err != nil {
			return nil, err
		} else if u != nil {
			return u, nil
		}
	}
	return nil, nil
}

func (m Matcher) userByEmail(email string, userByEmail map[string]*models.User) (*models.User, error) {
	if u, ok := userByEmail[strings.ToLower(email)]; ok {
		return u, nil
	}
	var users []models.User
	if err := m.DB.Where("LOWER(email) = ?", strings.ToLower(email)).Limit(1).Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	userByEmail[strings.ToLower(users[0].Email)] = &users[0]
	return &users[0], nil
}
