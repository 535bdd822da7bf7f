package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/pipeline"
)

func testStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(filepath.Join(t.TempDir(), "nested", "runs.json"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func report(content ...string) *pipeline.Report {
	rep := &pipeline.Report{
		RunID:          uuid.New(),
		Source:         pipeline.SourceUpload,
		ProcessingType: frame.OCR,
		Frames:         frame.Collection{},
	}
	for i, c := range content {
		rep.Frames = append(rep.Frames, frame.ImageData{
			Timestamp:      "2024-01-01T00:00:00Z",
			FrameNumber:    uint64(i + 1),
			Content:        c,
			ProcessingType: frame.OCR,
		})
	}
	return rep
}

func TestNewJSONStore(t *testing.T) {
	s := testStore(t)
	if s.Count() != 0 {
		t.Errorf("expected empty store, got %d runs", s.Count())
	}
}

func TestNewRun(t *testing.T) {
	rep := report("hello")
	r := NewRun(pipeline.SourceUpload, "a.png", rep, nil)
	if r.Status != StatusOK || r.ID != rep.RunID.String() {
		t.Errorf("run = %+v", r)
	}

	rep.Failed = []pipeline.FrameFailure{{FrameNumber: 2}}
	if r := NewRun(pipeline.SourceUpload, "a.png", rep, nil); r.Status != StatusPartial {
		t.Errorf("status = %s, want partial", r.Status)
	}

	err := &pipeline.Error{Kind: pipeline.KindFileNotFound, Op: "upload", Err: errors.New("gone")}
	r = NewRun(pipeline.SourceUpload, "a.png", nil, err)
	if r.Status != StatusFailed || r.ErrorKind != "FileNotFound" || r.Error == "" || r.Report != nil {
		t.Errorf("failed run = %+v", r)
	}

	id := uuid.New()
	err = &pipeline.Error{Kind: pipeline.KindProcessingError, Op: "process", RunID: id, Err: errors.New("offline")}
	if r := NewRun(pipeline.SourceUpload, "a.png", nil, err); r.ID != id.String() {
		t.Errorf("failed run id = %q, want %s", r.ID, id)
	}

	if r := NewRun(pipeline.SourceCapture, "", nil, nil); r.Status != StatusRunning {
		t.Errorf("status = %s, want running", r.Status)
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)

	r := NewRun(pipeline.SourceCapture, "", nil, nil)
	if err := s.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Errorf("save did not fill ID and timestamps: %+v", r)
	}

	got, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %s", got.Status)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s1, _ := NewJSONStore(path)

	r := NewRun(pipeline.SourceUpload, "clip.mp4", report("first", "second"), nil)
	if err := s1.Save(r); err != nil {
		t.Fatal(err)
	}

	s2, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.Get(r.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Report == nil || len(got.Report.Frames) != 2 || got.Report.Frames[1].Content != "second" {
		t.Errorf("report after reopen = %+v", got.Report)
	}
	if s2.Path() != path {
		t.Errorf("Path = %s", s2.Path())
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.Save(&Run{ID: id, Status: StatusOK, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || runs[0].ID != "c" || runs[2].ID != "a" {
		t.Errorf("order = %v", ids(runs))
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	r := &Run{ID: "x"}
	s.Save(r)

	if err := s.Delete("x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d", s.Count())
	}
	if err := s.Delete("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v", err)
	}
}

func TestSearch(t *testing.T) {
	s := testStore(t)
	s.Save(NewRun(pipeline.SourceUpload, "a.png", report("Quarterly Revenue"), nil))
	s.Save(NewRun(pipeline.SourceUpload, "b.png", report("terminal", "git status"), nil))
	s.Save(NewRun(pipeline.SourceUpload, "c.png", nil, errors.New("boom")))

	results, _ := s.Search("revenue")
	if len(results) != 1 || results[0].Input != "a.png" {
		t.Errorf("revenue = %v", ids(results))
	}
	results, _ = s.Search("GIT")
	if len(results) != 1 || results[0].Input != "b.png" {
		t.Errorf("git = %v", ids(results))
	}
	results, _ = s.Search("nothing here")
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", ids(results))
	}
}

func ids(runs []*Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
