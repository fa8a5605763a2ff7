package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostelhub/internal/face"
	"hostelhub/internal/session"
)

type recordKey struct {
	userID  string
	day     string
	session session.ID
}

// MemoryStore is a mutex-guarded AdminStore for tests and DB_DRIVER=memory.
type MemoryStore struct {
	mu       sync.Mutex
	students map[string]Student
	records  map[recordKey]Record
	leaves   []Leave
	holidays map[string]Holiday
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]Student),
		records:  make(map[recordKey]Record),
		holidays: make(map[string]Holiday),
	}
}

var _ AdminStore = (*MemoryStore)(nil)

func (m *MemoryStore) FindStudent(_ context.Context, userID string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[userID]
	if !ok {
		return Student{}, ErrUserNotFound
	}
	st.FaceEmbedding = append(face.Embedding(nil), st.FaceEmbedding...)
	return st, nil
}

func (m *MemoryStore) UpsertStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.students[st.ID]; ok && len(st.FaceEmbedding) == 0 {
		st.FaceEmbedding = prev.FaceEmbedding
	}
	m.students[st.ID] = st
	return nil
}

func (m *MemoryStore) EnrollFace(_ context.Context, userID string, emb face.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[userID]
	if !ok {
		return ErrUserNotFound
	}
	st.FaceEmbedding = append(face.Embedding(nil), emb...)
	m.students[userID] = st
	return nil
}

func (m *MemoryStore) FindRecords(_ context.Context, userID, day string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for k, rec := range m.records {
		if k.userID == userID && k.day == day {
			res = append(res, rec)
		}
	}
	sortRecords(res)
	return res, nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{userID: rec.UserID, day: rec.Day, session: rec.Session}
	if _, exists := m.records[key]; exists {
		return Record{}, ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	m.records[key] = rec
	return rec, nil
}

func (m *MemoryStore) FindRecord(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (m *MemoryStore) UpdateRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		oldKey recordKey
		found  bool
	)
	for k, r := range m.records {
		if r.ID == rec.ID {
			oldKey, found = k, true
			break
		}
	}
	if !found {
		return Record{}, ErrRecordNotFound
	}
	cur := m.records[oldKey]
	newKey := recordKey{userID: cur.UserID, day: rec.Day, session: rec.Session}
	if newKey != oldKey {
		if _, taken := m.records[newKey]; taken {
			return Record{}, ErrDuplicate
		}
		delete(m.records, oldKey)
	}
	cur.Day, cur.Session, cur.IsPresent, cur.Note = rec.Day, rec.Session, rec.IsPresent, rec.Note
	m.records[newKey] = cur
	return cur, nil
}

func (m *MemoryStore) DeleteRecords(_ context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.records {
		if k.userID == userID && k.day == day {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, userID, from, to string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for k, rec := range m.records {
		if k.userID == userID && k.day >= from && k.day <= to {
			res = append(res, rec)
		}
	}
	sortRecords(res)
	return res, nil
}

func (m *MemoryStore) ApprovedLeaves(_ context.Context, userID, from, to string) ([]Leave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Leave
	for _, lv := range m.leaves {
		if lv.UserID == userID && lv.Status == LeaveApproved && lv.From <= to && lv.To >= from {
			res = append(res, lv)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListStudents(_ context.Context, hostelBlock string) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Student
	for _, st := range m.students {
		if st.HostelBlock == hostelBlock {
			st.FaceEmbedding = nil
			res = append(res, st)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) BlockRecords(_ context.Context, hostelBlock, day string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for k, rec := range m.records {
		if k.day == day && m.students[k.userID].HostelBlock == hostelBlock {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UserID != res[j].UserID {
			return res[i].UserID < res[j].UserID
		}
		return res[i].Session < res[j].Session
	})
	return res, nil
}

func (m *MemoryStore) BlockLeaves(_ context.Context, hostelBlock, from, to string) ([]Leave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Leave
	for _, lv := range m.leaves {
		if lv.Status == LeaveApproved && lv.From <= to && lv.To >= from && m.students[lv.UserID].HostelBlock == hostelBlock {
			res = append(res, lv)
		}
	}
	return res, nil
}

func (m *MemoryStore) AddLeave(_ context.Context, lv Leave) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = append(m.leaves, lv)
	return nil
}

func (m *MemoryStore) HolidayWindow(_ context.Context, hostelBlock string) (Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holidays[hostelBlock]; ok {
		return h, nil
	}
	return Holiday{HostelBlock: hostelBlock}, nil
}

func (m *MemoryStore) SetHoliday(_ context.Context, h Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.HostelBlock] = h
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Day != recs[j].Day {
			return recs[i].Day < recs[j].Day
		}
		return recs[i].Session < recs[j].Session
	})
}
