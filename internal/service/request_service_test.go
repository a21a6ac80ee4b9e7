package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- In-memory fakes ---
//
// The fakes share one store guarded by a mutex. The fake transaction manager
// holds the mutex for the whole transaction and restores a snapshot when the
// callback fails, so all-or-nothing and serialization behavior can be
// asserted without a database.

type txMarker struct{}

type memStore struct {
	mu           sync.Mutex
	requests     map[uuid.UUID]model.Request
	requestItems []model.RequestItem
	items        map[uuid.UUID]model.Item
	users        map[uuid.UUID]model.User
	audits       []model.AuditLog
	movements    []model.StockMovement
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[uuid.UUID]model.Request),
		items:    make(map[uuid.UUID]model.Item),
		users:    make(map[uuid.UUID]model.User),
	}
}

// lock takes the store mutex unless ctx already runs inside a fake
// transaction, which holds the mutex for its whole span.
func (s *memStore) lock(ctx context.Context) func() {
	if ctx.Value(txMarker{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	requests     map[uuid.UUID]model.Request
	requestItems []model.RequestItem
	items        map[uuid.UUID]model.Item
	audits       []model.AuditLog
	movements    []model.StockMovement
}

func (s *memStore) snapshot() snapshot {
	snap := snapshot{
		requests:     make(map[uuid.UUID]model.Request, len(s.requests)),
		items:        make(map[uuid.UUID]model.Item, len(s.items)),
		requestItems: append([]model.RequestItem(nil), s.requestItems...),
		audits:       append([]model.AuditLog(nil), s.audits...),
		movements:    append([]model.StockMovement(nil), s.movements...),
	}
	for id, r := range s.requests {
		snap.requests[id] = r
	}
	for id, i := range s.items {
		snap.items[id] = i
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.requests = snap.requests
	s.items = snap.items
	s.requestItems = snap.requestItems
	s.audits = snap.audits
	s.movements = snap.movements
}

type fakeTxManager struct {
	store *memStore
}

func (t *fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

type fakeRequestRepo struct {
	store *memStore
}

func (r *fakeRequestRepo) Create(ctx context.Context, req *model.Request) error {
	defer r.store.lock(ctx)()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	r.store.requests[req.ID] = *req
	return nil
}

func (r *fakeRequestRepo) CreateItem(ctx context.Context, item *model.RequestItem) error {
	defer r.store.lock(ctx)()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.store.requestItems = append(r.store.requestItems, *item)
	return nil
}

func (r *fakeRequestRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	defer r.store.lock(ctx)()
	req, ok := r.store.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if u, ok := r.store.users[req.RequesterID]; ok {
		requester := u
		req.Requester = &requester
	}
	for _, line := range r.store.requestItems {
		if line.RequestID == id {
			if item, ok := r.store.items[line.ItemID]; ok {
				copied := item
				line.Item = &copied
			}
			req.Items = append(req.Items, line)
		}
	}
	return &req, nil
}

func (r *fakeRequestRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	defer r.store.lock(ctx)()
	req, ok := r.store.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (r *fakeRequestRepo) ListItems(ctx context.Context, requestID uuid.UUID) ([]model.RequestItem, error) {
	defer r.store.lock(ctx)()
	var lines []model.RequestItem
	for _, line := range r.store.requestItems {
		if line.RequestID == requestID {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (r *fakeRequestRepo) Update(ctx context.Context, req *model.Request) error {
	defer r.store.lock(ctx)()
	if _, ok := r.store.requests[req.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *req
	stored.Requester, stored.Evaluator, stored.Admin, stored.Items = nil, nil, nil, nil
	r.store.requests[req.ID] = stored
	return nil
}

func (r *fakeRequestRepo) List(ctx context.Context, filter repository.RequestFilter) ([]model.Request, int64, error) {
	defer r.store.lock(ctx)()
	var matched []model.Request
	for _, req := range r.store.requests {
		if filter.Status != "" && req.Status() != filter.Status {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		matched = append(matched, req)
	}
	return matched, int64(len(matched)), nil
}

func (r *fakeRequestRepo) ListStageFields(ctx context.Context, filter repository.StatsFilter) ([]model.Request, error) {
	defer r.store.lock(ctx)()
	var matched []model.Request
	for _, req := range r.store.requests {
		if filter.From != nil && req.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && req.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, req)
	}
	return matched, nil
}

func (r *fakeRequestRepo) ReleasedValue(ctx context.Context, _ repository.StatsFilter) (decimal.Decimal, error) {
	defer r.store.lock(ctx)()
	total := decimal.Zero
	for _, line := range r.store.requestItems {
		req, ok := r.store.requests[line.RequestID]
		if !ok || req.AdminStatus != model.StageApproved || req.CancelledAt != nil {
			continue
		}
		if item, ok := r.store.items[line.ItemID]; ok {
			total = total.Add(item.UnitCost.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}
	return total, nil
}

type fakeItemRepo struct {
	store *memStore
}

func (r *fakeItemRepo) Create(ctx context.Context, item *model.Item) error {
	defer r.store.lock(ctx)()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.store.items[item.ID] = *item
	return nil
}

func (r *fakeItemRepo) Update(ctx context.Context, item *model.Item) error {
	defer r.store.lock(ctx)()
	r.store.items[item.ID] = *item
	return nil
}

func (r *fakeItemRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.store.lock(ctx)()
	delete(r.store.items, id)
	return nil
}

func (r *fakeItemRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	defer r.store.lock(ctx)()
	item, ok := r.store.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &item, nil
}

func (r *fakeItemRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeItemRepo) List(ctx context.Context, _, _ int, _ string) ([]model.Item, int64, error) {
	defer r.store.lock(ctx)()
	var items []model.Item
	for _, item := range r.store.items {
		items = append(items, item)
	}
	return items, int64(len(items)), nil
}

func (r *fakeItemRepo) ListLowStock(ctx context.Context) ([]model.Item, error) {
	defer r.store.lock(ctx)()
	var items []model.Item
	for _, item := range r.store.items {
		if item.LowOnStock() {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *fakeItemRepo) UpdateStock(ctx context.Context, id uuid.UUID, stock int) error {
	defer r.store.lock(ctx)()
	item, ok := r.store.items[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	item.QuantityOnHand = stock
	r.store.items[id] = item
	return nil
}

func (r *fakeItemRepo) CreateMovement(ctx context.Context, mv *model.StockMovement) error {
	defer r.store.lock(ctx)()
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	r.store.movements = append(r.store.movements, *mv)
	return nil
}

func (r *fakeItemRepo) ListMovements(ctx context.Context, itemID uuid.UUID, _, _ int) ([]model.StockMovement, int64, error) {
	defer r.store.lock(ctx)()
	var movements []model.StockMovement
	for _, mv := range r.store.movements {
		if mv.ItemID == itemID {
			movements = append(movements, mv)
		}
	}
	return movements, int64(len(movements)), nil
}

func (r *fakeItemRepo) CreateCategory(_ context.Context, category *model.Category) error {
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	return nil
}

func (r *fakeItemRepo) ListCategories(_ context.Context) ([]model.Category, error) {
	return nil, nil
}

type fakeUserRepo struct {
	store *memStore
}

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	defer r.store.lock(ctx)()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.store.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer r.store.lock(ctx)()
	user, ok := r.store.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer r.store.lock(ctx)()
	for _, user := range r.store.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) List(ctx context.Context, _, _ int) ([]model.User, int64, error) {
	defer r.store.lock(ctx)()
	var users []model.User
	for _, u := range r.store.users {
		users = append(users, u)
	}
	return users, int64(len(users)), nil
}

func (r *fakeUserRepo) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	defer r.store.lock(ctx)()
	var users []model.User
	for _, u := range r.store.users {
		if u.Role == role {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *fakeUserRepo) ListChiefsOfDivision(ctx context.Context, divisionID uuid.UUID) ([]model.User, error) {
	defer r.store.lock(ctx)()
	var users []model.User
	for _, u := range r.store.users {
		if u.Role == model.RoleDivisionChief && u.DivisionID != nil && *u.DivisionID == divisionID {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	defer r.store.lock(ctx)()
	r.store.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.store.lock(ctx)()
	delete(r.store.users, id)
	return nil
}

func (r *fakeUserRepo) CreateRefreshToken(_ context.Context, _ *model.RefreshToken) error { return nil }
func (r *fakeUserRepo) GetRefreshToken(_ context.Context, _ string) (*model.RefreshToken, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *fakeUserRepo) DeleteRefreshToken(_ context.Context, _ string) error { return nil }
func (r *fakeUserRepo) DeleteExpiredRefreshTokens(_ context.Context) error   { return nil }

type fakeAuditRepo struct {
	store *memStore
}

func (r *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	defer r.store.lock(ctx)()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	r.store.audits = append(r.store.audits, *entry)
	return nil
}

func (r *fakeAuditRepo) List(ctx context.Context, _, _ int) ([]model.AuditLog, int64, error) {
	defer r.store.lock(ctx)()
	return append([]model.AuditLog(nil), r.store.audits...), int64(len(r.store.audits)), nil
}

func (r *fakeAuditRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.AuditLog, error) {
	defer r.store.lock(ctx)()
	var logs []model.AuditLog
	for _, entry := range r.store.audits {
		if entry.RequestID != nil && *entry.RequestID == requestID {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []NotificationInput
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, input NotificationInput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, input)
	return nil
}

func (n *fakeNotifier) sentOfType(notifType string) []NotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	var matched []NotificationInput
	for _, in := range n.sent {
		if in.Type == notifType {
			matched = append(matched, in)
		}
	}
	return matched
}

// --- Fixture ---

type fixture struct {
	store     *memStore
	svc       RequestService
	notifier  *fakeNotifier
	requester model.User
	chief     model.User
	admin     model.User
	pens      model.Item
	paper     model.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	notifier := &fakeNotifier{}

	division := uuid.New()
	f := &fixture{
		store:    store,
		notifier: notifier,
		requester: model.User{
			ID: uuid.New(), Name: "Ana Reyes", Email: "ana@office.gov",
			Role: model.RoleRequester, DivisionID: &division,
		},
		chief: model.User{
			ID: uuid.New(), Name: "Ben Cruz", Email: "ben@office.gov",
			Role: model.RoleDivisionChief, DivisionID: &division,
		},
		admin: model.User{
			ID: uuid.New(), Name: "Cora Lim", Email: "cora@office.gov",
			Role: model.RoleAdmin,
		},
		pens:  model.Item{ID: uuid.New(), Name: "Ballpoint Pen", QuantityOnHand: 10, UnitCost: decimal.NewFromInt(15)},
		paper: model.Item{ID: uuid.New(), Name: "Bond Paper", QuantityOnHand: 10, UnitCost: decimal.NewFromInt(250)},
	}

	store.users[f.requester.ID] = f.requester
	store.users[f.chief.ID] = f.chief
	store.users[f.admin.ID] = f.admin
	store.items[f.pens.ID] = f.pens
	store.items[f.paper.ID] = f.paper

	f.svc = NewRequestService(
		&fakeRequestRepo{store: store},
		&fakeItemRepo{store: store},
		&fakeUserRepo{store: store},
		&fakeAuditRepo{store: store},
		&fakeTxManager{store: store},
		notifier,
	)
	return f
}

func (f *fixture) createRequest(t *testing.T, urgent bool) RequestResponse {
	t.Helper()
	resp, err := f.svc.CreateRequest(context.Background(), f.requester.ID.String(), CreateRequestInput{
		IsUrgent: urgent,
		Items: []RequestItemInput{
			{ItemID: f.pens.ID.String(), Quantity: 3},
			{ItemID: f.paper.ID.String(), Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	return resp
}

func (f *fixture) evaluated(t *testing.T) RequestResponse {
	t.Helper()
	created := f.createRequest(t, false)
	resp, err := f.svc.Evaluate(context.Background(), created.ID, f.chief.ID.String(), DecisionInput{Decision: "approve"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return resp
}

func (f *fixture) stockOf(t *testing.T, itemID uuid.UUID) int {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	item, ok := f.store.items[itemID]
	if !ok {
		t.Fatalf("item %s not in store", itemID)
	}
	return item.QuantityOnHand
}

func (f *fixture) setStock(itemID uuid.UUID, quantity int) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	item := f.store.items[itemID]
	item.QuantityOnHand = quantity
	f.store.items[itemID] = item
}

// --- Tests ---

func TestCreateRequest(t *testing.T) {
	f := newFixture(t)

	resp := f.createRequest(t, false)

	if resp.Status != model.StatusPending {
		t.Errorf("new request status = %q, want %q", resp.Status, model.StatusPending)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(resp.Items))
	}
	if f.stockOf(t, f.pens.ID) != 10 {
		t.Errorf("creating a request must not touch stock, got %d", f.stockOf(t, f.pens.ID))
	}

	// Division chiefs get notified once
	created := f.notifier.sentOfType(model.NotifRequestCreated)
	if len(created) != 1 {
		t.Fatalf("request_created notifications = %d, want 1", len(created))
	}
	if created[0].UserID != f.chief.ID {
		t.Errorf("notification went to %s, want chief %s", created[0].UserID, f.chief.ID)
	}

	// Creation lands in the audit trail
	if len(f.store.audits) != 1 || f.store.audits[0].Action != model.ActionCreateRequest {
		t.Errorf("expected a single CREATE_REQUEST audit entry, got %+v", f.store.audits)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, f.requester.ID.String(), CreateRequestInput{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("empty items: err = %v, want ErrValidation", err)
	}

	_, err = f.svc.CreateRequest(ctx, f.requester.ID.String(), CreateRequestInput{
		Items: []RequestItemInput{{ItemID: f.pens.ID.String(), Quantity: 0}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("zero quantity: err = %v, want ErrValidation", err)
	}

	_, err = f.svc.CreateRequest(ctx, f.requester.ID.String(), CreateRequestInput{
		Items: []RequestItemInput{{ItemID: uuid.NewString(), Quantity: 1}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown item: err = %v, want ErrNotFound", err)
	}
}

func TestUrgentRequestNotification(t *testing.T) {
	f := newFixture(t)

	f.createRequest(t, true)

	urgent := f.notifier.sentOfType(model.NotifUrgentRequest)
	if len(urgent) != 1 {
		t.Fatalf("urgent_request notifications = %d, want 1", len(urgent))
	}
	if urgent[0].Priority != model.PriorityUrgent {
		t.Errorf("priority = %q, want %q", urgent[0].Priority, model.PriorityUrgent)
	}
}

func TestFullApprovalPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createRequest(t, false)

	resp, err := f.svc.Evaluate(ctx, created.ID, f.chief.ID.String(), DecisionInput{Decision: "approve"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Status != model.StatusEvaluatorApproved {
		t.Fatalf("after evaluate status = %q, want %q", resp.Status, model.StatusEvaluatorApproved)
	}
	if resp.Evaluator.DecidedAt == nil {
		t.Error("evaluator timestamp not set")
	}

	resp, err = f.svc.Approve(ctx, created.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if resp.Status != model.StatusAdminApproved {
		t.Fatalf("after approve status = %q, want %q", resp.Status, model.StatusAdminApproved)
	}

	// Stock deducted exactly once per line
	if got := f.stockOf(t, f.pens.ID); got != 7 {
		t.Errorf("pens stock = %d, want 7", got)
	}
	if got := f.stockOf(t, f.paper.ID); got != 5 {
		t.Errorf("paper stock = %d, want 5", got)
	}
	if len(f.store.movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(f.store.movements))
	}
	for _, mv := range f.store.movements {
		if mv.MovementType != model.MovementOut {
			t.Errorf("movement type = %q, want OUT", mv.MovementType)
		}
		if mv.QuantityChanged >= 0 {
			t.Errorf("OUT movement quantity = %d, want negative", mv.QuantityChanged)
		}
	}

	resp, err = f.svc.MarkReadyForPickup(ctx, created.ID, f.admin.ID.String())
	if err != nil {
		t.Fatalf("MarkReadyForPickup: %v", err)
	}
	if resp.Status != model.StatusFinalApproved {
		t.Fatalf("after ready status = %q, want %q", resp.Status, model.StatusFinalApproved)
	}

	resp, err = f.svc.MarkReceived(ctx, created.ID, f.admin.ID.String(), ReceiveInput{ReceivedBy: "Ana Reyes"})
	if err != nil {
		t.Fatalf("MarkReceived: %v", err)
	}
	if resp.IsDone == nil {
		t.Error("IsDone not set after receipt")
	}
	if resp.ReceivedBy != "Ana Reyes" {
		t.Errorf("ReceivedBy = %q", resp.ReceivedBy)
	}

	// One requester-facing notification per transition
	for _, notifType := range []string{
		model.NotifRequestUnderReview,
		model.NotifRequestApproved,
		model.NotifRequestReadyPickup,
		model.NotifRequestCompleted,
	} {
		requesterCopies := 0
		for _, n := range f.notifier.sentOfType(notifType) {
			if n.UserID == f.requester.ID {
				requesterCopies++
			}
		}
		if requesterCopies != 1 {
			t.Errorf("%s notifications to requester = %d, want 1", notifType, requesterCopies)
		}
	}
}

func TestApproveInsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drain paper below the requested quantity; pens stay plentiful
	f.setStock(f.paper.ID, 2)

	evaluated := f.evaluated(t)

	_, err := f.svc.Approve(ctx, evaluated.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err %v is not an *InsufficientStockError", err)
	}
	if stockErr.ItemName != "Bond Paper" || stockErr.Requested != 5 || stockErr.Available != 2 {
		t.Errorf("unexpected shortfall detail: %+v", stockErr)
	}

	// Nothing deducted, not even the line that had enough stock
	if got := f.stockOf(t, f.pens.ID); got != 10 {
		t.Errorf("pens stock = %d, want 10 (no partial deduction)", got)
	}
	if got := f.stockOf(t, f.paper.ID); got != 2 {
		t.Errorf("paper stock = %d, want 2", got)
	}
	if len(f.store.movements) != 0 {
		t.Errorf("movements = %d, want 0", len(f.store.movements))
	}

	// The admin stage write rolled back with the stock
	stored := f.store.requests[uuid.MustParse(evaluated.ID)]
	if stored.Status() != model.StatusEvaluatorApproved {
		t.Errorf("status after failed approve = %q, want %q", stored.Status(), model.StatusEvaluatorApproved)
	}
	if stored.AdminApprovedAt != nil {
		t.Error("admin timestamp should not survive the rollback")
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("approve before evaluation", func(t *testing.T) {
		f := newFixture(t)
		created := f.createRequest(t, false)

		_, err := f.svc.Approve(ctx, created.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("approve after rejection", func(t *testing.T) {
		f := newFixture(t)
		created := f.createRequest(t, false)

		if _, err := f.svc.Evaluate(ctx, created.ID, f.chief.ID.String(), DecisionInput{Decision: "reject", Remarks: "not needed"}); err != nil {
			t.Fatalf("Evaluate reject: %v", err)
		}
		_, err := f.svc.Approve(ctx, created.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
		if got := f.stockOf(t, f.pens.ID); got != 10 {
			t.Errorf("stock touched on a rejected request: %d", got)
		}
	})

	t.Run("double evaluate", func(t *testing.T) {
		f := newFixture(t)
		evaluated := f.evaluated(t)

		_, err := f.svc.Evaluate(ctx, evaluated.ID, f.chief.ID.String(), DecisionInput{Decision: "reject"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("ready before admin approval", func(t *testing.T) {
		f := newFixture(t)
		evaluated := f.evaluated(t)

		_, err := f.svc.MarkReadyForPickup(ctx, evaluated.ID, f.admin.ID.String())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("double receive", func(t *testing.T) {
		f := newFixture(t)
		evaluated := f.evaluated(t)

		if _, err := f.svc.Approve(ctx, evaluated.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"}); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		if _, err := f.svc.MarkReadyForPickup(ctx, evaluated.ID, f.admin.ID.String()); err != nil {
			t.Fatalf("MarkReadyForPickup: %v", err)
		}
		if _, err := f.svc.MarkReceived(ctx, evaluated.ID, f.admin.ID.String(), ReceiveInput{ReceivedBy: "Ana"}); err != nil {
			t.Fatalf("MarkReceived: %v", err)
		}

		_, err := f.svc.MarkReceived(ctx, evaluated.ID, f.admin.ID.String(), ReceiveInput{ReceivedBy: "Ben"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("transition error names current status", func(t *testing.T) {
		f := newFixture(t)
		created := f.createRequest(t, false)

		_, err := f.svc.Approve(ctx, created.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
		if err == nil || !strings.Contains(err.Error(), model.StatusPending) {
			t.Errorf("error %v should mention the current status", err)
		}
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cancels own pending request", func(t *testing.T) {
		f := newFixture(t)
		created := f.createRequest(t, false)

		resp, err := f.svc.Cancel(ctx, created.ID, f.requester.ID.String(), model.RoleRequester)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if resp.Status != model.StatusCancelled {
			t.Errorf("status = %q, want %q", resp.Status, model.StatusCancelled)
		}
	})

	t.Run("admin cancels someone else's request", func(t *testing.T) {
		f := newFixture(t)
		evaluated := f.evaluated(t)

		resp, err := f.svc.Cancel(ctx, evaluated.ID, f.admin.ID.String(), model.RoleAdmin)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if resp.Status != model.StatusCancelled {
			t.Errorf("status = %q, want %q", resp.Status, model.StatusCancelled)
		}
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		created := f.createRequest(t, false)

		_, err := f.svc.Cancel(ctx, created.ID, f.chief.ID.String(), model.RoleDivisionChief)
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("cannot cancel after admin approval", func(t *testing.T) {
		f := newFixture(t)
		evaluated := f.evaluated(t)

		if _, err := f.svc.Approve(ctx, evaluated.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"}); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		_, err := f.svc.Cancel(ctx, evaluated.ID, f.requester.ID.String(), model.RoleRequester)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
		// The deducted stock stays deducted; cancel never restocks
		if got := f.stockOf(t, f.pens.ID); got != 7 {
			t.Errorf("stock = %d, want 7", got)
		}
	})
}

func TestConcurrentApprovalOverSharedStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.evaluated(t)
	second := f.evaluated(t)

	// Shrink pens to cover only one of the two competing requests
	f.setStock(f.pens.ID, 3)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, requestID, f.admin.ID.String(), DecisionInput{Decision: "approve"})
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var failures, successes int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientStock):
			failures++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("successes = %d, insufficient-stock failures = %d; want exactly one of each", successes, failures)
	}
	if got := f.stockOf(t, f.pens.ID); got != 0 {
		t.Errorf("pens stock = %d, want 0", got)
	}
}

func TestNotificationFailureDoesNotBlockTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	created := f.createRequest(t, false)

	resp, err := f.svc.Evaluate(ctx, created.ID, f.chief.ID.String(), DecisionInput{Decision: "approve"})
	if err != nil {
		t.Fatalf("Evaluate should survive a broken notifier: %v", err)
	}
	if resp.Status != model.StatusEvaluatorApproved {
		t.Errorf("status = %q, want %q", resp.Status, model.StatusEvaluatorApproved)
	}
}

func TestGetRequestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evaluated := f.evaluated(t)

	timeline, err := f.svc.GetRequestHistory(ctx, evaluated.ID)
	if err != nil {
		t.Fatalf("GetRequestHistory: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline entries = %d, want 2", len(timeline))
	}
	if timeline[0].Action != model.ActionCreateRequest || timeline[1].Action != model.ActionEvaluate {
		t.Errorf("timeline actions = [%s, %s]", timeline[0].Action, timeline[1].Action)
	}

	_, err = f.svc.GetRequestHistory(ctx, uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRequestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createRequest(t, true) // stays pending, urgent

	approved := f.evaluated(t)
	if _, err := f.svc.Approve(ctx, approved.ID, f.admin.ID.String(), DecisionInput{Decision: "approve"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	rejected := f.createRequest(t, false)
	if _, err := f.svc.Evaluate(ctx, rejected.ID, f.chief.ID.String(), DecisionInput{Decision: "reject"}); err != nil {
		t.Fatalf("Evaluate reject: %v", err)
	}

	stats, err := f.svc.GetRequestStats(ctx, StatsInput{})
	if err != nil {
		t.Fatalf("GetRequestStats: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[model.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", stats.ByStatus[model.StatusPending])
	}
	if stats.ByStatus[model.StatusAdminApproved] != 1 {
		t.Errorf("admin_approved = %d, want 1", stats.ByStatus[model.StatusAdminApproved])
	}
	if stats.ByStatus[model.StatusRejected] != 1 {
		t.Errorf("rejected = %d, want 1", stats.ByStatus[model.StatusRejected])
	}
	if stats.UrgentOpen != 1 {
		t.Errorf("urgent open = %d, want 1", stats.UrgentOpen)
	}

	// 3 pens * 15 + 5 reams * 250 = 1295 released by the approved request
	want := decimal.NewFromInt(1295)
	if !stats.ApprovedValue.Equal(want) {
		t.Errorf("approved value = %s, want %s", stats.ApprovedValue, want)
	}
}

func TestListRequestsRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.ListRequests(context.Background(), ListRequestsInput{Status: "half_approved"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
