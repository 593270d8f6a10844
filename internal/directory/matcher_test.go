package directory

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"partner_portal/internal/journals"
	"partner_portal/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.StaffRecord{}))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, email, name string) models.User {
	t.Helper()
	u := models.User{ID: id, Email: email, Name: name}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func TestMatchByDirectID(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", "one@corp.ru", "One")

	m := Matcher{DB: db}
	matched, unmatched, err := m.MatchBatch([]journals.Responsible{
		{EmployeeID: "u1"},
	}, NewRequestCache())
	require.NoError(t, err)

	require.Contains(t, matched, "u1")
	assert.Equal(t, "u1", matched["u1"].ID)
	assert.Empty(t, unmatched)
}

func TestMatchByEmailCaseInsensitive(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", "one@corp.ru", "One")

	m := Matcher{DB: db}
	matched, _, err := m.MatchBatch([]journals.Responsible{
		{EmployeeEmail: "One@Corp.RU"},
	}, NewRequestCache())
	require.NoError(t, err)

	require.Contains(t, matched, "One@Corp.RU")
	assert.Equal(t, "u1", matched["One@Corp.RU"].ID)
}

func TestMatchByStaffCode(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", "one@corp.ru", "One")
	require.NoError(t, db.Create(&models.StaffRecord{Code: "EMP-77", Email: "one@corp.ru", FIO: "Ivanov Ivan"}).Error)

	m := Matcher{DB: db}
	matched, _, err := m.MatchBatch([]journals.Responsible{
		{EmployeeID: "EMP-77"},
	}, NewRequestCache())
	require.NoError(t, err)

	require.Contains(t, matched, "EMP-77")
	assert.Equal(t, "u1", matched["EMP-77"].ID)
}

func TestMatchByNameFallback(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", "petrov@corp.ru", "Petrov")
	require.NoError(t, db.Create(&models.StaffRecord{Code: "EMP-1", Email: "petrov@corp.ru", FIO: "Petrov Petr Petrovich"}).Error)

	m := Matcher{DB: db}
	matched, _, err := m.MatchBatch([]journals.Responsible{
		{EmployeeName: "Petrov Petr"},
	}, NewRequestCache())
	require.NoError(t, err)

	require.Contains(t, matched, "Petrov Petr")
	assert.Equal(t, "u1", matched["Petrov Petr"].ID)
}

// When several identity fields are present and would match different users,
// id wins over email, and email wins over name.
func TestPriorityOrderIDBeforeEmailBeforeName(t *testing.T) {
	db := openTestDB(t)
	byID := seedUser(t, db, "u-id", "id@corp.ru", "ById")
	byEmail := seedUser(t, db, "u-email", "email@corp.ru", "ByEmail")
	seedUser(t, db, "u-name", "name@corp.ru", "ByName")
	require.NoError(t, db.Create(&models.StaffRecord{Code: "c1", Email: "name@corp.ru", FIO: "Sidorov Ivan"}).Error)

	m := Matcher{DB: db}

	matched, _, err := m.MatchBatch([]journals.Responsible{
		{EmployeeID: "u-id", EmployeeEmail: "email@corp.ru", EmployeeName: "Sidorov"},
	}, NewRequestCache())
	require.NoError(t, err)
	assert.Equal(t, byID.ID, matched["u-id"].ID)

	matched, _, err = m.MatchBatch([]journals.Responsible{
		{EmployeeEmail: "email@corp.ru", EmployeeName: "Sidorov"},
	}, NewRequestCache())
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, matched["email@corp.ru"].ID)
}

func TestUnmatchedRecordsAreSurfacedNotDropped(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", "one@corp.ru", "One")

	m := Matcher{DB: db}
	matched, unmatched, err := m.MatchBatch([]journals.Responsible{
		{EmployeeID: "u1"},
		{EmployeeEmail: "ghost@corp.ru", ResponsibilityType: "PB"},
		{},
	}, NewRequestCache())
	require.NoError(t, err)

	assert.Len(t, matched, 1)
	require.Len(t, unmatched, 2)
	assert.Equal(t, "ghost@corp.ru", unmatched[0].EmployeeEmail)
	assert.Equal(t, "PB", unmatched[0].ResponsibilityType)
}

func TestRequestCacheShortCircuitsRepeatLookups(t *testing.T) {
	db := openTestDB(t)
	u := seedUser(t, db, "u1", "one@corp.ru", "One")

	m := Matcher{DB: db}
	rc := NewRequestCache()

	_, _, err := m.MatchBatch([]journals.Responsible{{EmployeeID: "u1"}}, rc)
	require.NoError(t, err)

	// Drop the row; the cached resolution must still answer.
	require.NoError(t, db.Delete(&models.User{}, "id = ?", "u1").Error)

	got, err := m.MatchOne(journals.Responsible{EmployeeID: "u1"}, rc)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
}
