// Package chat manages safety-journal discussions: one chat per branch,
// its message history and the realtime fanout around it. Authorization
// comes from the access resolver, participant identity from the staff
// directory matcher.
package chat

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/access"
	"partner_portal/internal/directory"
	"partner_portal/internal/journals"
	"partner_portal/internal/models"
	"partner_portal/internal/notify"
	"partner_portal/internal/realtime"
)

type Service struct {
	DB       *gorm.DB
	Access   *access.Resolver
	Journals *journals.Client
	Notify   *notify.Service
	Hub      *realtime.Hub
	Log      *zap.Logger

	// spawn runs the slow half of a fanout. Tests replace it with an
	// inline call so assertions see a finished fanout.
	spawn func(func())
}

func NewService(db *gorm.DB, acc *access.Resolver, jc *journals.Client, nt *notify.Service, hub *realtime.Hub, log *zap.Logger) *Service {
	return &Service{
		DB:       db,
		Access:   acc,
		Journals: jc,
		Notify:   nt,
		Hub:      hub,
		Log:      log,
		spawn:    func(f func()) { go f() },
	}
}

// canAccess reports whether the user may open the branch chat: checkers
// always, everyone else only while responsible for the branch.
func (s *Service) canAccess(ctx context.Context, userID, branchID, token string) (bool, error) {
	isChecker, err := s.Access.IsChecker(userID)
	if err != nil {
		return false, err
	}
	if isChecker {
		return true, nil
	}
	return s.Access.IsResponsibleForBranch(ctx, userID, branchID, token), nil
}

// GetOrCreate returns the branch chat, creating it on first access. When a
// chat has to be created the checker is picked in order: the requester if
// they qualify, the explicitly requested checker, the oldest full grant,
// any supervisor. A lost creation race falls back to the winner's row.
func (s *Service) GetOrCreate(ctx context.Context, userID, token, branchID, requestedCheckerID string) (*models.Chat, error) {
	ok, err := s.canAccess(ctx, userID, branchID, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	if chat, err := s.chatByBranch(branchID); err != nil {
		return nil, err
	} else if chat != nil {
		return chat, nil
	}

	checkerID, err := s.pickChecker(userID, requestedCheckerID)
	if err != nil {
		return nil, err
	}

	created := models.Chat{BranchID: branchID, CheckerID: checkerID}
	if err := s.DB.Create(&created).Error; err != nil {
		// A concurrent request may have created the chat between the
		// lookup and the insert; the unique index on branch_id rejects
		// the second insert, so refetch before giving up.
		if chat, ferr := s.chatByBranch(branchID); ferr == nil && chat != nil {
			s.Log.Debug("chat creation raced, using existing chat",
				zap.String("branchId", branchID),
				zap.String("chatId", chat.ID))
			return chat, nil
		}
		return nil, err
	}

	s.Log.Info("chat created",
		zap.String("chatId", created.ID),
		zap.String("branchId", branchID),
		zap.String("checkerId", checkerID))

	chat, err := s.chatByBranch(branchID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *Service) pickChecker(userID, requestedCheckerID string) (string, error) {
	isChecker, err := s.Access.IsChecker(userID)
	if err != nil {
		return "", err
	}
	if isChecker {
		return userID, nil
	}

	if requestedCheckerID != "" {
		var count int64
		err := s.DB.Model(&models.User{}).
			Where("id = ?", requestedCheckerID).
			Count(&count).Error
		if err != nil {
			return "", err
		}
		if count == 0 {
			return "", ErrCheckerNotFound
		}
		return requestedCheckerID, nil
	}

	if id, err := s.Access.FirstFullGrantUserID(); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}
	if id, err := s.Access.FirstSupervisorID(); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}
	return "", ErrNoCheckerAvailable
}

// chatByBranch loads the branch chat with its full message history, or
// nil when the branch has no chat yet.
func (s *Service) chatByBranch(branchID string) (*models.Chat, error) {
	var chats []models.Chat
	err := s.DB.Where("branch_id = ?", branchID).
		Preload("Checker").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Messages.Sender").
		Preload("Messages.Attachments").
		Preload("Messages.QuotedMessage").
		Preload("Messages.QuotedMessage.Sender").
		Limit(1).
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, nil
	}
	chat := chats[0]
	if chat.Messages == nil {
		chat.Messages = []models.ChatMessage{}
	}
	return &chat, nil
}

func (s *Service) chatByID(chatID string) (*models.Chat, error) {
	var chats []models.Chat
	err := s.DB.Where("id = ?", chatID).Limit(1).Find(&chats).Error
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrChatNotFound
	}
	return &chats[0], nil
}

// Summary is one row of the chat list view.
type Summary struct {
	models.Chat
	Branch       *models.Branch      `json:"branch,omitempty"`
	LastMessage  *models.ChatMessage `json:"lastMessage,omitempty"`
	MessageCount int64               `json:"messageCount"`
}

// List returns the chats visible to the user, newest activity first.
// Checkers see every chat; everyone else only chats of branches they ask
// for explicitly (the handler passes the branch filter through).
func (s *Service) List(userID, branchID string) ([]Summary, error) {
	isChecker, err := s.Access.IsChecker(userID)
	if err != nil {
		return nil, err
	}

	q := s.DB.Model(&models.Chat{}).Preload("Checker").Order("updated_at DESC")
	switch {
	case branchID != "":
		q = q.Where("branch_id = ?", branchID)
	case !isChecker:
		q = q.Where("checker_id = ?", userID)
	}

	var chats []models.Chat
	if err := q.Find(&chats).Error; err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(chats))
	for _, c := range chats {
		sum := Summary{Chat: c}
		last, err := s.lastMessage(c.ID)
		if err != nil {
			return nil, err
		}
		sum.LastMessage = last

		err = s.DB.Model(&models.ChatMessage{}).
			Where("chat_id = ?", c.ID).
			Count(&sum.MessageCount).Error
		if err != nil {
			return nil, err
		}

		var branches []models.Branch
		err = s.DB.Where("uuid = ?", c.BranchID).Limit(1).Find(&branches).Error
		if err != nil {
			return nil, err
		}
		if len(branches) > 0 {
			sum.Branch = &branches[0]
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) lastMessage(chatID string) (*models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.Where("chat_id = ?", chatID).
		Preload("Sender").
		Preload("Attachments").
		Order("created_at DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// BranchSummary is one branch in the checker's overview: upstream branches
// with open journals merged with branches that already carry a chat.
type BranchSummary struct {
	BranchID      string              `json:"branchId"`
	BranchName    string              `json:"branchName"`
	BranchAddress string              `json:"branchAddress,omitempty"`
	ChatID        string              `json:"chatId,omitempty"`
	LastMessage   *models.ChatMessage `json:"lastMessage,omitempty"`
	UnreadCount   int64               `json:"unreadCount"`
	UpdatedAt     *time.Time          `json:"updatedAt,omitempty"`
}

// BranchesWithChats builds the checker overview. Upstream unavailability
// degrades to the locally known chats instead of failing the request.
func (s *Service) BranchesWithChats(ctx context.Context, userID, token string) ([]BranchSummary, error) {
	isChecker, err := s.Access.IsChecker(userID)
	if err != nil {
		return nil, err
	}
	if !isChecker {
		return nil, ErrForbidden
	}

	upstream, err := s.Journals.BranchesWithJournals(ctx, token)
	if err != nil {
		s.Log.Warn("journal branches unavailable, using local chats only", zap.Error(err))
		upstream = nil
	}

	var chats []models.Chat
	if err := s.DB.Find(&chats).Error; err != nil {
		return nil, err
	}
	chatByBranch := make(map[string]*models.Chat, len(chats))
	for i := range chats {
		chatByBranch[chats[i].BranchID] = &chats[i]
	}

	seen := make(map[string]struct{})
	var out []BranchSummary
	for _, b := range upstream {
		seen[b.BranchID] = struct{}{}
		sum, err := s.branchSummary(userID, b.BranchID, b.BranchName, b.BranchAddress)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	for branchID := range chatByBranch {
		if _, ok := seen[branchID]; ok {
			continue
		}
		sum, err := s.branchSummary(userID, branchID, "", "")
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].UpdatedAt, out[j].UpdatedAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

func (s *Service) branchSummary(userID, branchID, name, address string) (BranchSummary, error) {
	sum := BranchSummary{BranchID: branchID, BranchName: name, BranchAddress: address}

	var branches []models.Branch
	err := s.DB.Where("uuid = ?", branchID).Limit(1).Find(&branches).Error
	if err != nil {
		return sum, err
	}
	if len(branches) > 0 {
		if sum.BranchName == "" {
			sum.BranchName = branches[0].Name
		}
		if sum.BranchAddress == "" {
			sum.BranchAddress = branches[0].Address
		}
	}

	var chats []models.Chat
	err = s.DB.Where("branch_id = ?", branchID).Limit(1).Find(&chats).Error
	if err != nil {
		return sum, err
	}
	if len(chats) == 0 {
		return sum, nil
	}
	chat := chats[0]
	sum.ChatID = chat.ID
	updated := chat.UpdatedAt
	sum.UpdatedAt = &updated

	last, err := s.lastMessage(chat.ID)
	if err != nil {
		return sum, err
	}
	sum.LastMessage = last

	err = s.DB.Model(&models.ChatMessage{}).
		Where("chat_id = ? AND sender_id <> ? AND read_at IS NULL", chat.ID, userID).
		Count(&sum.UnreadCount).Error
	return sum, err
}

// Participant is one person who may take part in the branch chat. External
// entries come from the upstream responsible list with no portal account.
type Participant struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Email               string   `json:"email,omitempty"`
	Image               string   `json:"image,omitempty"`
	Position            string   `json:"position,omitempty"`
	Branch              string   `json:"branch,omitempty"`
	ResponsibilityTypes []string `json:"responsibilityTypes,omitempty"`
	IsChecker           bool     `json:"isChecker"`
	External            bool     `json:"external,omitempty"`
}

// Participants lists every checker plus the branch responsibles. Upstream
// responsibles without a portal account are kept as external entries so
// the branch roster stays complete.
func (s *Service) Participants(ctx context.Context, token, branchID string) ([]Participant, error) {
	checkers, err := s.Access.AllCheckers()
	if err != nil {
		return nil, err
	}

	resps, _, err := s.Access.BranchResponsibles(ctx, token, branchID)
	if err != nil {
		s.Log.Warn("branch responsibles unavailable",
			zap.String("branchId", branchID), zap.Error(err))
		resps = nil
	}

	rc := directory.NewRequestCache()
	matched, unmatched, err := s.Access.MatchResponsibles(resps, rc)
	if err != nil {
		return nil, err
	}

	// responsibility types per portal user, deduplicated
	typesByUser := make(map[string][]string)
	for _, r := range resps {
		u := matched[directory.Key(r)]
		if u == nil || r.ResponsibilityType == "" {
			continue
		}
		if !containsString(typesByUser[u.ID], r.ResponsibilityType) {
			typesByUser[u.ID] = append(typesByUser[u.ID], r.ResponsibilityType)
		}
	}

	ids := make(map[string]struct{}, len(checkers))
	for id := range checkers {
		ids[id] = struct{}{}
	}
	for _, u := range matched {
		if u != nil {
			ids[u.ID] = struct{}{}
		}
	}

	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	var users []models.User
	if len(idList) > 0 {
		err = s.DB.Where("id IN ?", idList).Order("name ASC").Find(&users).Error
		if err != nil {
			return nil, err
		}
	}

	out := make([]Participant, 0, len(users)+len(unmatched))
	for _, u := range users {
		_, isChecker := checkers[u.ID]
		out = append(out, Participant{
			ID:                  u.ID,
			Name:                u.Name,
			Email:               u.Email,
			Image:               u.Image,
			Position:            u.Position,
			Branch:              u.Branch,
			ResponsibilityTypes: typesByUser[u.ID],
			IsChecker:           isChecker,
		})
	}

	// external responsibles, one entry per distinct identity
	external := make(map[string]*Participant)
	var order []string
	for _, r := range unmatched {
		key := directory.Key(r)
		if key == "" {
			continue
		}
		p, ok := external[key]
		if !ok {
			p = &Participant{
				ID:       externalID(r),
				Name:     externalName(r),
				Email:    strings.ToLower(strings.TrimSpace(r.EmployeeEmail)),
				External: true,
			}
			external[key] = p
			order = append(order, key)
		}
		if r.ResponsibilityType != "" && !containsString(p.ResponsibilityTypes, r.ResponsibilityType) {
			p.ResponsibilityTypes = append(p.ResponsibilityTypes, r.ResponsibilityType)
		}
	}
	for _, key := range order {
		out = append(out, *external[key])
	}
	return out, nil
}

func externalID(r journals.Responsible) string {
	if r.EmployeeID != "" {
		return r.EmployeeID
	}
	if r.EmployeeEmail != "" {
		return strings.ToLower(strings.TrimSpace(r.EmployeeEmail))
	}
	return "external:" + strings.TrimSpace(r.EmployeeName)
}

func externalName(r journals.Responsible) string {
	if name := strings.TrimSpace(r.EmployeeName); name != "" {
		return name
	}
	if r.EmployeeEmail != "" {
		return r.EmployeeEmail
	}
	return "Unknown"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
