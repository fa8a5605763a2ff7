package attendance

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"hostelhub/internal/clock"
	"hostelhub/internal/face"
	"hostelhub/internal/geofence"
	"hostelhub/internal/queue"
	"hostelhub/internal/session"
)

var (
	ist          = time.FixedZone("IST", 5*3600+1800)
	hostelCenter = geofence.LatLng{Lat: 11.270233401520507, Lng: 77.60308379730445}
)

const hostel = "Valluvar Mens Hostel"

type stubModel struct {
	calls atomic.Int32
	desc  face.Embedding
}

func (m *stubModel) Load(context.Context) error { return nil }

func (m *stubModel) Detect(context.Context, []byte, face.DetectOptions) (*face.Detection, error) {
	m.calls.Add(1)
	return &face.Detection{Score: 0.9, Box: face.Box{Width: 150, Height: 170}, Descriptor: m.desc}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

type stubArchive struct {
	url string
	err error
}

func (a stubArchive) Archive(context.Context, string, []byte) (string, error) {
	return a.url, a.err
}

type fixture struct {
	store  *MemoryStore
	model  *stubModel
	clock  *clock.Fixed
	pub    *recordingPublisher
	ledger *Ledger
}

// candidateAt returns a unit vector whose cosine with [1, 0] is c.
func candidateAt(c float64) face.Embedding {
	return face.Embedding{float32(c), float32(math.Sqrt(1 - c*c))}
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	st := NewMemoryStore()
	ctx := context.Background()
	if err := st.UpsertStudent(ctx, Student{ID: "stu-1", Name: "Arun", HostelBlock: hostel, FaceEmbedding: face.Embedding{1, 0}}); err != nil {
		t.Fatal(err)
	}
	model := &stubModel{desc: candidateAt(0.72)}
	clk := clock.NewFixed(time.Date(2025, 3, 10, 7, 45, 0, 0, ist))
	pub := &recordingPublisher{}
	opts := Options{
		Store: st,
		Boundaries: geofence.NewRegistry(geofence.Boundary{
			Name: hostel, Center: &hostelCenter, RadiusMeters: 100,
		}),
		Extractor:   face.NewExtractor(face.NewEngine(model, time.Second, nil, nil), time.Second, nil),
		Verifier:    face.Verifier{Threshold: 50},
		Publisher:   pub,
		Clock:       clk,
		Location:    ist,
		AllowBypass: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{store: st, model: model, clock: clk, pub: pub, ledger: NewLedger(opts)}
}

func selfie(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(2 * x), G: uint8(2 * y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatal(err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func at(pos geofence.LatLng) geofence.Position { return geofence.Position{Coord: pos} }

func northOf(p geofence.LatLng, meters float64) geofence.LatLng {
	return geofence.LatLng{Lat: p.Lat + meters/(geofence.EarthRadiusMeters*math.Pi/180), Lng: p.Lng}
}

func wantReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection %s, got %v", reason, err)
	}
	if rej.Reason != reason {
		t.Fatalf("expected %s, got %s (%s)", reason, rej.Reason, rej.Message)
	}
}

func TestMarkAccepted(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
	})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Session != session.Morning || !rec.IsPresent || rec.Day != "2025-03-10" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.HasPrefix(rec.PhotoRef, "sha256:") {
		t.Fatalf("photo ref = %q", rec.PhotoRef)
	}
	if rec.Latitude == nil || *rec.Latitude != hostelCenter.Lat {
		t.Fatalf("coordinates not stored: %+v", rec)
	}

	recs, _ := f.store.FindRecords(context.Background(), "stu-1", "2025-03-10")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if len(f.pub.msgs) != 1 || f.pub.msgs[0].Type != EventMarked {
		t.Fatalf("published %+v", f.pub.msgs)
	}
	evt, err := DecodeEvent(f.pub.msgs[0])
	if err != nil || evt.UserID != "stu-1" || evt.Session != session.Morning {
		t.Fatalf("event %+v err %v", evt, err)
	}
}

func TestMarkDefaultsToToday(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Set(time.Date(2025, 3, 10, 13, 0, 0, 0, ist))
	rec, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
	})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Day != "2025-03-10" || rec.Session != session.Afternoon {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestMarkPresenceOnlyForToday(t *testing.T) {
	f := newFixture(t, nil)
	for _, day := range []string{"2025-03-09", "2025-03-11"} {
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: day, IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
		})
		wantReason(t, err, ReasonInvalidRequest)
	}
	if n := f.model.calls.Load(); n != 0 {
		t.Fatalf("extractor called %d times", n)
	}

	rec, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-09", IsPresent: false, Note: "home", Position: geofence.Position{Bypass: true},
	})
	if err != nil {
		t.Fatalf("absence for another day: %v", err)
	}
	if rec.Day != "2025-03-09" || rec.IsPresent {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestMarkOutsideGeofence(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(northOf(hostelCenter, 150)),
	})
	wantReason(t, err, ReasonOutsideGeofence)
	if n := f.model.calls.Load(); n != 0 {
		t.Fatalf("extractor called %d times", n)
	}
	if recs, _ := f.store.FindRecords(context.Background(), "stu-1", "2025-03-10"); len(recs) != 0 {
		t.Fatal("record persisted after rejection")
	}
}

func TestMarkDuplicateSession(t *testing.T) {
	f := newFixture(t, nil)
	req := MarkRequest{UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter)}
	if _, err := f.ledger.Mark(context.Background(), req); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	_, err := f.ledger.Mark(context.Background(), req)
	wantReason(t, err, ReasonDuplicateSession)

	recs, _ := f.store.FindRecords(context.Background(), "stu-1", "2025-03-10")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestMarkConcurrentClaimsPersistOnce(t *testing.T) {
	f := newFixture(t, nil)
	req := MarkRequest{UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter)}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		dup      atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Mark(context.Background(), req)
			var rej *Rejection
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.As(err, &rej) && rej.Reason == ReasonDuplicateSession:
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != 1 || dup.Load() != 7 {
		t.Fatalf("accepted=%d duplicate=%d", accepted.Load(), dup.Load())
	}
}

func TestMarkWithoutEnrollmentSkipsExtractor(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.store.UpsertStudent(context.Background(), Student{ID: "stu-2", HostelBlock: hostel})
	_, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-2", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
	})
	wantReason(t, err, ReasonNoFaceEnrolled)
	if n := f.model.calls.Load(); n != 0 {
		t.Fatalf("extractor called %d times", n)
	}
}

func TestMarkSessionClosed(t *testing.T) {
	for _, clk := range []time.Time{
		time.Date(2025, 3, 10, 6, 59, 0, 0, ist),
		time.Date(2025, 3, 10, 8, 31, 0, 0, ist),
		time.Date(2025, 3, 10, 18, 1, 0, 0, ist),
	} {
		f := newFixture(t, nil)
		f.clock.Set(clk)
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
		})
		wantReason(t, err, ReasonSessionClosed)
	}
}

func TestMarkFaceGates(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		f := newFixture(t, nil)
		f.model.desc = candidateAt(0.3)
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
		})
		wantReason(t, err, ReasonFaceMismatch)
	})
	t.Run("no face", func(t *testing.T) {
		f := newFixture(t, nil)
		f.model.desc = nil
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
		})
		wantReason(t, err, ReasonNoFaceDetected)
	})
	t.Run("empty photo", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Position: at(hostelCenter),
		})
		wantReason(t, err, ReasonNoFaceDetected)
	})
	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.ledger.Mark(context.Background(), MarkRequest{
			UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Position: at(hostelCenter),
			Photo: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("hello")),
		})
		wantReason(t, err, ReasonInvalidRequest)
	})
}

func TestMarkUnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Mark(context.Background(), MarkRequest{UserID: "ghost", IsPresent: true})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkWebBypass(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: geofence.Position{Bypass: true},
	})
	if err != nil {
		t.Fatalf("bypass mark: %v", err)
	}
	if rec.Latitude != nil {
		t.Fatal("bypassed mark stored coordinates")
	}

	strict := newFixture(t, func(o *Options) { o.AllowBypass = false })
	_, err = strict.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: geofence.Position{Bypass: true},
	})
	wantReason(t, err, ReasonOutsideGeofence)
}

func TestMarkMissingBoundaryPasses(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.store.UpsertStudent(context.Background(), Student{ID: "stu-3", HostelBlock: "Unmapped Block", FaceEmbedding: face.Embedding{1, 0}})
	if _, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-3", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(northOf(hostelCenter, 5000)),
	}); err != nil {
		t.Fatalf("mark: %v", err)
	}
}

func TestMarkAbsenceRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Set(time.Date(2025, 3, 10, 10, 0, 0, 0, ist))
	rec, err := f.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: false, Note: "sick bay", Position: geofence.Position{Bypass: true},
	})
	if err != nil {
		t.Fatalf("absence: %v", err)
	}
	if rec.IsPresent || rec.Session != session.Morning || rec.Note != "sick bay" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n := f.model.calls.Load(); n != 0 {
		t.Fatalf("extractor called %d times", n)
	}
}

func TestMarkPhotoArchive(t *testing.T) {
	ok := newFixture(t, func(o *Options) { o.Archive = stubArchive{url: "https://cdn.example/p.jpg"} })
	rec, err := ok.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
	})
	if err != nil || rec.PhotoRef != "https://cdn.example/p.jpg" {
		t.Fatalf("ref=%q err=%v", rec.PhotoRef, err)
	}

	failing := newFixture(t, func(o *Options) { o.Archive = stubArchive{err: errors.New("cdn down")} })
	rec, err = failing.ledger.Mark(context.Background(), MarkRequest{
		UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter),
	})
	if err != nil {
		t.Fatalf("archive failure rejected the mark: %v", err)
	}
	if !strings.HasPrefix(rec.PhotoRef, "sha256:") {
		t.Fatalf("ref = %q", rec.PhotoRef)
	}
}

func TestCheckAndReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := MarkRequest{UserID: "stu-1", Day: "2025-03-10", IsPresent: true, Photo: selfie(t), Position: at(hostelCenter)}
	if _, err := f.ledger.Mark(ctx, req); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(time.Date(2025, 3, 10, 12, 30, 0, 0, ist))
	if _, err := f.ledger.Mark(ctx, req); err != nil {
		t.Fatal(err)
	}

	res, err := f.ledger.Check(ctx, "stu-1", "2025-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if !res.MorningMarked || !res.AfternoonMarked || res.Morning.Session != session.Morning || res.Afternoon.Session != session.Afternoon {
		t.Fatalf("check = %+v", res)
	}

	n, err := f.ledger.Reset(ctx, "stu-1", "2025-03-10")
	if err != nil || n != 2 {
		t.Fatalf("reset n=%d err=%v", n, err)
	}
	n, err = f.ledger.Reset(ctx, "stu-1", "2025-03-10")
	if err != nil || n != 0 {
		t.Fatalf("second reset n=%d err=%v", n, err)
	}
	res, _ = f.ledger.Check(ctx, "stu-1", "2025-03-10")
	if res.MorningMarked || res.AfternoonMarked || res.Morning != nil {
		t.Fatalf("check after reset = %+v", res)
	}

	var resets int
	for _, m := range f.pub.msgs {
		if m.Type == EventReset {
			resets++
		}
	}
	if resets != 1 {
		t.Fatalf("expected one reset event, got %d", resets)
	}

	if _, err := f.ledger.Reset(ctx, "stu-1", "10/03/2025"); err == nil {
		t.Fatal("malformed date accepted")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, day := range []string{"2025-02-28", "2025-03-01", "2025-03-05"} {
		if _, err := f.store.InsertRecord(ctx, Record{UserID: "stu-1", Day: day, Session: session.Morning, IsPresent: true}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := f.ledger.History(ctx, "stu-1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Day != "2025-03-01" {
		t.Fatalf("history = %+v", recs)
	}
	if _, err := f.ledger.History(ctx, "stu-1", "2025-03-05", "2025-03-01"); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestCorrect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	morning, err := f.store.InsertRecord(ctx, Record{UserID: "stu-1", Day: "2025-03-10", Session: session.Morning, IsPresent: true, PhotoRef: "sha256:aa"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.InsertRecord(ctx, Record{UserID: "stu-1", Day: "2025-03-10", Session: session.Afternoon, IsPresent: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.Correct(ctx, "missing", Correction{}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	bad := "10-03-2025"
	_, err = f.ledger.Correct(ctx, morning.ID, Correction{Day: &bad})
	wantReason(t, err, ReasonInvalidRequest)
	evening := session.ID("evening")
	_, err = f.ledger.Correct(ctx, morning.ID, Correction{Session: &evening})
	wantReason(t, err, ReasonInvalidRequest)
	afternoon := session.Afternoon
	_, err = f.ledger.Correct(ctx, morning.ID, Correction{Session: &afternoon})
	wantReason(t, err, ReasonDuplicateSession)
	if len(f.pub.msgs) != 0 {
		t.Fatalf("published after failed corrections: %+v", f.pub.msgs)
	}

	absent, day, note := false, "2025-03-08", "was on leave"
	rec, err := f.ledger.Correct(ctx, morning.ID, Correction{Day: &day, IsPresent: &absent, Note: &note})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if rec.Day != day || rec.IsPresent || rec.Note != note || rec.Session != session.Morning || rec.PhotoRef != "sha256:aa" {
		t.Fatalf("corrected = %+v", rec)
	}
	got, err := f.ledger.Record(ctx, morning.ID)
	if err != nil || got.Day != day {
		t.Fatalf("record=%+v err=%v", got, err)
	}

	if len(f.pub.msgs) != 2 || f.pub.msgs[0].Type != EventReset || f.pub.msgs[1].Type != EventMarked {
		t.Fatalf("published %+v", f.pub.msgs)
	}
	if evt, _ := DecodeEvent(f.pub.msgs[0]); evt.Day != "2025-03-10" {
		t.Fatalf("reset event %+v", evt)
	}
}
