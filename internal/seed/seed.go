package seed

import (
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"partner_portal/internal/access"
	"partner_portal/internal/models"
)

func FirstSetup(db *gorm.DB) error {
	// -------------------------
	// 1) Ensure the safety tool
	// -------------------------
	tool := models.Tool{Name: "Safety journals", Link: access.ToolLink}
	if err := db.Where("link = ?", tool.Link).FirstOrCreate(&tool).Error; err != nil {
		return err
	}

	// -------------------------
	// 2) Ensure supervisor account
	// -------------------------
	const adminEmail = "admin@example.com"
	const adminPass = "admin123" // change after first login

	passHash, _ := bcrypt.GenerateFromPassword([]byte(adminPass), bcrypt.DefaultCost)

	admin := models.User{
		Email:        adminEmail,
		Name:         "Admin User",
		Role:         models.RoleSupervisor,
		PasswordHash: string(passHash),
	}
	if err := db.Where("email = ?", adminEmail).FirstOrCreate(&admin).Error; err != nil {
		return err
	}

	// -------------------------
	// 3) Ensure a demo jurist with a direct FULL grant
	// -------------------------
	const juristEmail = "jurist@example.com"
	juristHash, _ := bcrypt.GenerateFromPassword([]byte("jurist123"), bcrypt.DefaultCost)

	jurist := models.User{
		Email:        juristEmail,
		Name:         "Jurist User",
		Position:     "Jurist",
		Role:         models.RoleEmployee,
		PasswordHash: string(juristHash),
	}
	if err := db.Where("email = ?", juristEmail).FirstOrCreate(&jurist).Error; err != nil {
		return err
	}

	grant := models.UserToolAccess{
		UserID:      jurist.ID,
		ToolID:      tool.ID,
		AccessLevel: models.AccessFull,
	}
	err := db.Where("user_id = ? AND tool_id = ?", jurist.ID, tool.ID).
		FirstOrCreate(&grant).Error
	if err != nil {
		return err
	}

	// -------------------------
	// 4) Sample staff directory rows for identity matching
	// -------------------------
	position := models.Position{UUID: "pos-legal", Name: "Legal counsel"}
	if err := db.Where("uuid = ?", position.UUID).FirstOrCreate(&position).Error; err != nil {
		return err
	}
	staff := models.StaffRecord{
		Code:       "EMP-0001",
		Email:      juristEmail,
		FIO:        "Jurist User",
		PositionID: position.UUID,
	}
	if err := db.Where("email = ?", staff.Email).FirstOrCreate(&staff).Error; err != nil {
		return err
	}

	log.Printf("✅ Seed OK | admin=%s pass=%s | jurist=%s | tool=%s",
		adminEmail, adminPass, juristEmail, tool.Link,
	)
	return nil
}
