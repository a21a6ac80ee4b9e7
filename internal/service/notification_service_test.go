package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeNotificationRepo struct {
	rows []model.Notification

	lastPage  int
	lastLimit int
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now()
	r.rows = append(r.rows, *n)
	return nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]model.Notification, int64, error) {
	r.lastPage = page
	r.lastLimit = limit

	var matched []model.Notification
	for _, n := range r.rows {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		matched = append(matched, n)
	}
	total := int64(len(matched))

	offset := (page - 1) * limit
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeNotificationRepo) CountUnread(_ context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	for _, n := range r.rows {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	for i, n := range r.rows {
		if n.ID == id && n.UserID == userID {
			now := time.Now()
			r.rows[i].IsRead = true
			r.rows[i].ReadAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, userID uuid.UUID) error {
	now := time.Now()
	for i, n := range r.rows {
		if n.UserID == userID && !n.IsRead {
			r.rows[i].IsRead = true
			r.rows[i].ReadAt = &now
		}
	}
	return nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (m *fakeMailer) Send(to, subject, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

type fakePusher struct {
	pushed []uuid.UUID
}

func (p *fakePusher) PushToUser(userID uuid.UUID, _ interface{}) {
	p.pushed = append(p.pushed, userID)
}

func notificationFixture() (*fakeNotificationRepo, *fakePusher, *fakeMailer, NotificationService, model.User) {
	repo := &fakeNotificationRepo{}
	pusher := &fakePusher{}
	mailer := &fakeMailer{}
	users := &fakeUserRepo{store: newMemStore()}
	recipient := model.User{ID: uuid.New(), Name: "Ana Reyes", Email: "ana@office.gov", Role: model.RoleRequester}
	users.store.users[recipient.ID] = recipient
	svc := NewNotificationService(repo, users, pusher, mailer)
	return repo, pusher, mailer, svc, recipient
}

func TestNotifyPersistsAndPushes(t *testing.T) {
	repo, pusher, mailer, svc, recipient := notificationFixture()

	err := svc.Notify(context.Background(), NotificationInput{
		UserID:  recipient.ID,
		Title:   "Request approved",
		Message: "Your request was approved",
		Type:    model.NotifRequestApproved,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(repo.rows))
	}
	if repo.rows[0].Priority != model.PriorityMedium {
		t.Errorf("default priority = %q, want %q", repo.rows[0].Priority, model.PriorityMedium)
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0] != recipient.ID {
		t.Errorf("pushed to %v, want [%s]", pusher.pushed, recipient.ID)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("non-urgent notification should not mail, sent %v", mailer.sent)
	}
}

func TestNotifyUrgentMailsRecipient(t *testing.T) {
	_, _, mailer, svc, recipient := notificationFixture()

	err := svc.Notify(context.Background(), NotificationInput{
		UserID:   recipient.ID,
		Title:    "Urgent supply request",
		Message:  "Needs review",
		Type:     model.NotifUrgentRequest,
		Priority: model.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("mails sent = %d, want 1", len(mailer.sent))
	}
	if want := recipient.Email + "|[URGENT] Urgent supply request"; mailer.sent[0] != want {
		t.Errorf("mail = %q, want %q", mailer.sent[0], want)
	}
}

func TestNotifyUrgentSurvivesMailerFailure(t *testing.T) {
	repo, _, mailer, svc, recipient := notificationFixture()
	mailer.err = errors.New("smtp down")

	err := svc.Notify(context.Background(), NotificationInput{
		UserID:   recipient.ID,
		Title:    "Urgent supply request",
		Message:  "Needs review",
		Type:     model.NotifUrgentRequest,
		Priority: model.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("mail failure must not fail Notify: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Errorf("row not persisted despite mail failure")
	}
}

func TestListNotificationsPagination(t *testing.T) {
	repo, _, _, svc, recipient := notificationFixture()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := svc.Notify(ctx, NotificationInput{
			UserID:  recipient.ID,
			Title:   "Request update",
			Message: "status changed",
			Type:    model.NotifRequestUnderReview,
		}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	page, total, err := svc.ListNotifications(ctx, recipient.ID.String(), false, 2, 2)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}
	// Page and limit reach the repository untouched
	if repo.lastPage != 2 || repo.lastLimit != 2 {
		t.Errorf("repo saw page=%d limit=%d, want 2/2", repo.lastPage, repo.lastLimit)
	}

	_, _, err = svc.ListNotifications(ctx, "not-a-uuid", false, 1, 20)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestListNotificationsUnreadFilter(t *testing.T) {
	_, _, _, svc, recipient := notificationFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Notify(ctx, NotificationInput{
			UserID:  recipient.ID,
			Title:   "Request update",
			Message: "status changed",
			Type:    model.NotifRequestCreated,
		}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	all, _, err := svc.ListNotifications(ctx, recipient.ID.String(), false, 1, 20)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if err := svc.MarkRead(ctx, all[0].ID, recipient.ID.String()); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	unread, total, err := svc.ListNotifications(ctx, recipient.ID.String(), true, 1, 20)
	if err != nil {
		t.Fatalf("ListNotifications unread: %v", err)
	}
	if total != 2 || len(unread) != 2 {
		t.Errorf("unread = %d (total %d), want 2", len(unread), total)
	}

	count, err := svc.CountUnread(ctx, recipient.ID.String())
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 2 {
		t.Errorf("unread count = %d, want 2", count)
	}

	if err := svc.MarkAllRead(ctx, recipient.ID.String()); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	count, _ = svc.CountUnread(ctx, recipient.ID.String())
	if count != 0 {
		t.Errorf("unread count after MarkAllRead = %d, want 0", count)
	}
}

func TestMarkReadUnknownNotification(t *testing.T) {
	_, _, _, svc, recipient := notificationFixture()

	err := svc.MarkRead(context.Background(), uuid.NewString(), recipient.ID.String())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
