package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/db"
)

var errDatabase = errors.New("database error")

// memStore is an in-memory Store with the same read-state rules as the SQL repository.
type memStore struct {
	mu         sync.Mutex
	rows       map[int64]*db.Notification
	nextID     int64
	base       time.Time
	shouldFail bool

	bulkCalls int
}

func newMemStore() *memStore {
	return &memStore{
		rows: make(map[int64]*db.Notification),
		base: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) insert(n *db.Notification) {
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = m.base.Add(time.Duration(n.ID) * time.Second)
	cp := *n
	m.rows[n.ID] = &cp
}

func (m *memStore) CreateNotification(ctx context.Context, n *db.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return errDatabase
	}
	m.insert(n)
	return nil
}

func (m *memStore) BulkCreateNotifications(ctx context.Context, ns []*db.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCalls++
	if m.shouldFail {
		return errDatabase
	}
	for _, n := range ns {
		m.insert(n)
	}
	return nil
}

func (m *memStore) GetNotification(ctx context.Context, id, recipientID int64) (*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.RecipientID != recipientID {
		return nil, db.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) list(recipientID int64, unreadOnly bool) []*db.Notification {
	var out []*db.Notification
	for _, n := range m.rows {
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListNotifications(ctx context.Context, recipientID int64, limit, offset int) ([]*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.list(recipientID, false)
	if offset >= len(all) {
		return []*db.Notification{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) ListUnread(ctx context.Context, recipientID int64, limit int) ([]*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.list(recipientID, true)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.list(recipientID, true)), nil
}

func (m *memStore) MarkRead(ctx context.Context, id, recipientID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.RecipientID != recipientID || n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = &at
	return true, nil
}

func (m *memStore) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.rows {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (m *memStore) ClearAll(ctx context.Context, recipientID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.rows {
		if n.RecipientID == recipientID {
			delete(m.rows, id)
			count++
		}
	}
	return count, nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []*db.Notification
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, n *db.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, n)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func newTestService() (*Service, *memStore, *recordingBroadcaster) {
	store := newMemStore()
	b := &recordingBroadcaster{}
	svc := NewService(store, b, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return svc, store, b
}

func seed(t *testing.T, svc *Service, recipientID int64, n int) []*db.Notification {
	t.Helper()
	out := make([]*db.Notification, 0, n)
	for i := 0; i < n; i++ {
		notif, err := svc.Create(context.Background(), Spec{
			RecipientID: recipientID,
			Kind:        KindNewOrder,
			Title:       "Nouvelle commande reçue",
			Message:     "Awa Diop - 10 mangues",
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		out = append(out, notif)
	}
	return out
}

func TestService_Create(t *testing.T) {
	svc, store, b := newTestService()

	notif, err := svc.Create(context.Background(), Spec{
		RecipientID: 7,
		Kind:        KindPaymentReceived,
		Title:       "Paiement reçu",
		Message:     "15000 FCFA reçu",
		Related:     &Related{Type: RelatedOrder, ID: 42},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if notif.ID == 0 {
		t.Error("expected an assigned ID")
	}
	if notif.IsRead || notif.ReadAt != nil {
		t.Error("new notification must be unread with no read_at")
	}
	if notif.Data == nil || len(notif.Data) != 0 {
		t.Errorf("expected empty payload, got %v", notif.Data)
	}
	if notif.RelatedType == nil || *notif.RelatedType != RelatedOrder || *notif.RelatedID != 42 {
		t.Error("related object not recorded")
	}
	if len(store.rows) != 1 {
		t.Errorf("expected 1 stored row, got %d", len(store.rows))
	}
	if b.count() != 1 {
		t.Errorf("expected exactly one broadcast, got %d", b.count())
	}
}

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"unknown kind", Spec{RecipientID: 1, Kind: "weather", Title: "t", Message: "m"}, ErrInvalidKind},
		{"empty title", Spec{RecipientID: 1, Kind: KindNewOrder, Title: "", Message: "m"}, ErrEmptyText},
		{"markup only message", Spec{RecipientID: 1, Kind: KindNewOrder, Title: "t", Message: "<br/>"}, ErrEmptyText},
		{"no recipient", Spec{Kind: KindNewOrder, Title: "t", Message: "m"}, ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, b := newTestService()
			_, err := svc.Create(context.Background(), tt.spec)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(store.rows) != 0 || b.count() != 0 {
				t.Error("invalid spec must not be stored or broadcast")
			}
		})
	}
}

func TestService_CreatePersistFailure(t *testing.T) {
	svc, store, b := newTestService()
	store.shouldFail = true

	_, err := svc.Create(context.Background(), Spec{RecipientID: 1, Kind: KindNewOrder, Title: "t", Message: "m"})
	if !errors.Is(err, errDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}
	if b.count() != 0 {
		t.Error("nothing should be broadcast when persistence fails")
	}
}

func TestService_CreateStripsMarkup(t *testing.T) {
	svc, _, _ := newTestService()

	notif, err := svc.Create(context.Background(), Spec{
		RecipientID: 1,
		Kind:        KindNewMessage,
		Title:       "<b>Nouveau message</b>",
		Message:     `Moussa: <script>alert(1)</script>c'est prêt`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notif.Title != "Nouveau message" {
		t.Errorf("unexpected title %q", notif.Title)
	}
	if notif.Message != "Moussa: c'est prêt" {
		t.Errorf("unexpected message %q", notif.Message)
	}
}

func TestService_BulkCreateDoesNotBroadcast(t *testing.T) {
	svc, store, b := newTestService()

	specs := []Spec{
		{RecipientID: 1, Kind: KindStockUpdated, Title: "Marchandise reçue", Message: "Stock mis à jour"},
		{RecipientID: 2, Kind: KindStockUpdated, Title: "Marchandise reçue", Message: "Stock mis à jour"},
		{RecipientID: 3, Kind: KindStockUpdated, Title: "Marchandise reçue", Message: "Stock mis à jour"},
	}
	created, err := svc.BulkCreate(context.Background(), specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(created) != 3 {
		t.Fatalf("expected 3 created, got %d", len(created))
	}
	for i, n := range created {
		if n.RecipientID != specs[i].RecipientID {
			t.Errorf("row %d: order not preserved", i)
		}
	}
	if store.bulkCalls != 1 {
		t.Errorf("expected a single bulk write, got %d", store.bulkCalls)
	}
	if b.count() != 0 {
		t.Errorf("bulk creation must not broadcast, got %d", b.count())
	}
}

func TestService_CreateAllBroadcastsAfterOneWrite(t *testing.T) {
	svc, store, b := newTestService()

	created, err := svc.CreateAll(context.Background(), []Spec{
		{RecipientID: 1, Kind: KindOrderCancelled, Title: "Commande annulée", Message: "Annulée par Support"},
		{RecipientID: 2, Kind: KindOrderCancelled, Title: "Commande annulée", Message: "Annulée par Support"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(created) != 2 || created[0].ID == 0 || created[1].ID == 0 {
		t.Fatalf("expected 2 created with ids, got %+v", created)
	}
	if store.bulkCalls != 1 {
		t.Errorf("expected a single write, got %d", store.bulkCalls)
	}
	if b.count() != 2 {
		t.Errorf("expected each notification broadcast, got %d", b.count())
	}
}

func TestService_CreateAllIsAllOrNothing(t *testing.T) {
	tests := []struct {
		name      string
		failStore bool
		specs     []Spec
		want      error
	}{
		{
			name:      "store failure",
			failStore: true,
			specs: []Spec{
				{RecipientID: 1, Kind: KindOrderCancelled, Title: "t", Message: "m"},
				{RecipientID: 2, Kind: KindOrderCancelled, Title: "t", Message: "m"},
			},
			want: errDatabase,
		},
		{
			name: "second spec invalid",
			specs: []Spec{
				{RecipientID: 1, Kind: KindOrderCancelled, Title: "t", Message: "m"},
				{Kind: KindOrderCancelled, Title: "t", Message: "m"},
			},
			want: ErrInvalidRecipient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, b := newTestService()
			store.shouldFail = tt.failStore

			_, err := svc.CreateAll(context.Background(), tt.specs)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(store.rows) != 0 {
				t.Errorf("expected nothing stored, got %d rows", len(store.rows))
			}
			if b.count() != 0 {
				t.Errorf("expected nothing broadcast, got %d", b.count())
			}
		})
	}
}

func TestService_BulkCreateEmptyAndInvalid(t *testing.T) {
	svc, store, _ := newTestService()

	created, err := svc.BulkCreate(context.Background(), nil)
	if err != nil || len(created) != 0 {
		t.Fatalf("expected empty result, got %v %v", created, err)
	}
	if store.bulkCalls != 0 {
		t.Error("empty bulk should not touch the store")
	}

	_, err = svc.BulkCreate(context.Background(), []Spec{
		{RecipientID: 1, Kind: KindNewOrder, Title: "t", Message: "m"},
		{RecipientID: 1, Kind: "nope", Title: "t", Message: "m"},
	})
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Error("a rejected bulk must write nothing")
	}
}

func TestService_MarkReadIsMonotonic(t *testing.T) {
	svc, store, _ := newTestService()
	n := seed(t, svc, 1, 1)[0]
	ctx := context.Background()

	changed, err := svc.MarkRead(ctx, 1, n.ID)
	if err != nil || !changed {
		t.Fatalf("first mark read: changed=%v err=%v", changed, err)
	}
	firstReadAt := *store.rows[n.ID].ReadAt

	svc.now = func() time.Time { return firstReadAt.Add(time.Hour) }
	changed, err = svc.MarkRead(ctx, 1, n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("second mark read must be a no-op")
	}
	if !store.rows[n.ID].ReadAt.Equal(firstReadAt) {
		t.Error("read_at must not move once set")
	}
}

func TestService_MarkReadOwnerScoped(t *testing.T) {
	svc, store, _ := newTestService()
	n := seed(t, svc, 1, 1)[0]

	changed, err := svc.MarkRead(context.Background(), 2, n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed || store.rows[n.ID].IsRead {
		t.Error("another user must not be able to mark the notification read")
	}

	changed, _ = svc.MarkRead(context.Background(), 1, 9999)
	if changed {
		t.Error("missing notification must be a silent no-op")
	}
}

func TestService_MarkAllRead(t *testing.T) {
	svc, store, _ := newTestService()
	seed(t, svc, 1, 3)
	seed(t, svc, 2, 2)
	ctx := context.Background()

	count, err := svc.MarkAllRead(ctx, 1)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 marked, got %d (%v)", count, err)
	}

	var stamp *time.Time
	for _, n := range store.rows {
		if n.RecipientID != 1 {
			if n.IsRead {
				t.Error("other recipient's notifications must stay unread")
			}
			continue
		}
		if stamp == nil {
			stamp = n.ReadAt
		} else if !n.ReadAt.Equal(*stamp) {
			t.Error("mark all read must use one timestamp")
		}
	}

	count, err = svc.MarkAllRead(ctx, 1)
	if err != nil || count != 0 {
		t.Fatalf("second mark all should return 0, got %d (%v)", count, err)
	}
}

func TestService_UnreadBacklogScenario(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	n := seed(t, svc, 1, 3)

	if _, err := svc.MarkRead(ctx, 1, n[1].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	list, count, err := svc.Unread(ctx, 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 || len(list) != 2 {
		t.Fatalf("expected 2 unread, got list=%d count=%d", len(list), count)
	}
	if list[0].ID != n[2].ID || list[1].ID != n[0].ID {
		t.Errorf("expected newest first [%d %d], got [%d %d]", n[2].ID, n[0].ID, list[0].ID, list[1].ID)
	}

	marked, _ := svc.MarkAllRead(ctx, 1)
	if marked != 2 {
		t.Errorf("expected 2 marked, got %d", marked)
	}
}

func TestService_UnreadCapKeepsTrueCount(t *testing.T) {
	svc, _, _ := newTestService()
	seed(t, svc, 1, 25)

	list, count, err := svc.Unread(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 20 {
		t.Errorf("expected 20 listed, got %d", len(list))
	}
	if count != 25 {
		t.Errorf("expected count 25, got %d", count)
	}
}

func TestService_ClearAll(t *testing.T) {
	svc, store, _ := newTestService()
	n := seed(t, svc, 1, 3)
	seed(t, svc, 2, 1)
	_, _ = svc.MarkRead(context.Background(), 1, n[0].ID)

	deleted, err := svc.ClearAll(context.Background(), 1)
	if err != nil || deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d (%v)", deleted, err)
	}
	if len(store.rows) != 1 {
		t.Errorf("other recipients must keep their notifications, %d rows left", len(store.rows))
	}
}

func TestKind_Icon(t *testing.T) {
	if got := KindOrderCancelled.Icon(); got != "❌ Commande annulée" {
		t.Errorf("unexpected icon %q", got)
	}
	if got := Kind("legacy").Icon(); got != DefaultIcon {
		t.Errorf("expected default icon, got %q", got)
	}
	if len(Kinds()) != 22 {
		t.Errorf("expected 22 kinds, got %d", len(Kinds()))
	}
}

func TestNewEvent(t *testing.T) {
	readAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := NewEvent(&db.Notification{
		ID:     5,
		Kind:   string(KindNewReview),
		Title:  "Nouvelle évaluation",
		IsRead: true,
		ReadAt: &readAt,
	})

	if ev.Type != "new_review" || ev.Icon != "⭐ Nouvelle évaluation" {
		t.Errorf("unexpected type/icon %q %q", ev.Type, ev.Icon)
	}
	if ev.Data == nil {
		t.Error("data must serialise as an object, not null")
	}
	if !ev.IsRead || ev.ReadAt == nil {
		t.Error("read state not carried over")
	}
}
