package importer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/xraph/herald"
	"github.com/xraph/herald/importer"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/store/memory"
)

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // test

	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cellRef, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestHandle_ImportsWithHeader(t *testing.T) {
	s := memory.New()
	imp := importer.New(s, nil)
	file := workbook(t,
		[]any{"Email", "Name", "Phone"},
		[]any{"ada@example.com", "Ada", "+1 555 000 0001"},
		[]any{"", "Bad", "12"},
		[]any{"", "", ""},
		[]any{"grace@example.com", "Grace", ""},
	)

	var progress []int
	ctx := job.WithProgress(context.Background(), func(_ context.Context, pct int) error {
		progress = append(progress, pct)
		return nil
	})

	res, err := imp.Handle(ctx, importer.Payload{UserID: "u1", GroupName: "vip", File: file})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Rows != 3 || res.Imported != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Row != 3 {
		t.Errorf("errors = %+v", res.Errors)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress = %v", progress)
	}

	members, err := s.GetGroupRecipients(context.Background(), res.GroupID, true)
	if err != nil {
		t.Fatalf("GetGroupRecipients: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	if members[0].Phone != "+15550000001" || members[0].Email != "ada@example.com" || members[0].Name != "Ada" {
		t.Errorf("first member = %+v", members[0])
	}
}

func TestHandle_NoHeaderUsesDefaultColumns(t *testing.T) {
	s := memory.New()
	imp := importer.New(s, nil)
	file := workbook(t,
		[]any{"Lin", "+15550000002"},
		[]any{"Sam", "+15550000003", "sam@example.com"},
	)

	res, err := imp.Handle(context.Background(), importer.Payload{UserID: "u1", GroupName: "all", File: file})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Imported != 2 {
		t.Errorf("imported = %d, want 2", res.Imported)
	}
}

func TestHandle_Idempotent(t *testing.T) {
	s := memory.New()
	imp := importer.New(s, nil)
	file := workbook(t, []any{"Name", "Phone"}, []any{"Ada", "+15550000001"})
	p := importer.Payload{UserID: "u1", GroupID: "grp_fixed", File: file}

	for range 2 {
		if _, err := imp.Handle(context.Background(), p); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	n, err := s.CountGroup(context.Background(), "grp_fixed")
	if err != nil {
		t.Fatalf("CountGroup: %v", err)
	}
	if n != 1 {
		t.Errorf("group size = %d, want 1", n)
	}
}

// flakyWriter fails the first addFailures AddToGroup calls and remembers
// every group id EnsureGroup was given.
type flakyWriter struct {
	*memory.Store
	addFailures int
	groupIDs    []string
}

func (w *flakyWriter) EnsureGroup(ctx context.Context, g *recipient.Group) error {
	err := w.Store.EnsureGroup(ctx, g)
	w.groupIDs = append(w.groupIDs, g.ID)
	return err
}

func (w *flakyWriter) AddToGroup(ctx context.Context, groupID, contactID string) error {
	if w.addFailures > 0 {
		w.addFailures--
		return errors.New("connection reset")
	}
	return w.Store.AddToGroup(ctx, groupID, contactID)
}

func TestHandle_RetryFillsSameGroup(t *testing.T) {
	w := &flakyWriter{Store: memory.New(), addFailures: 1}
	imp := importer.New(w, nil)
	file := workbook(t, []any{"Name", "Phone"}, []any{"Ada", "+15550000001"}, []any{"Lin", "+15550000002"})
	p := importer.Payload{UserID: "u1", GroupName: "imported", File: file}
	ctx := job.NewContext(context.Background(), job.New(importer.TypeImport, job.DefaultOptions()))

	_, err := imp.Handle(ctx, p)
	if err == nil || job.IsPermanent(err) {
		t.Fatalf("first attempt err = %v, want retryable error", err)
	}
	res, err := imp.Handle(ctx, p)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if len(w.groupIDs) != 2 || w.groupIDs[0] != w.groupIDs[1] {
		t.Fatalf("groups used = %v, want one group across attempts", w.groupIDs)
	}
	if res.GroupID != w.groupIDs[0] {
		t.Errorf("result group = %q, want %q", res.GroupID, w.groupIDs[0])
	}
	n, err := w.CountGroup(context.Background(), res.GroupID)
	if err != nil || n != 2 {
		t.Errorf("group size = %d (%v), want 2", n, err)
	}
}

func TestHandle_ForeignGroupIsPermanent(t *testing.T) {
	s := memory.New()
	if err := s.EnsureGroup(context.Background(), &recipient.Group{ID: "grp_taken", UserID: "u2"}); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	imp := importer.New(s, nil)
	file := workbook(t, []any{"Name", "Phone"}, []any{"Ada", "+15550000001"})

	_, err := imp.Handle(context.Background(), importer.Payload{UserID: "u1", GroupID: "grp_taken", File: file})
	if !errors.Is(err, herald.ErrGroupNotFound) || !job.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent ErrGroupNotFound", err)
	}
	if n, _ := s.CountGroup(context.Background(), "grp_taken"); n != 0 {
		t.Errorf("foreign group gained %d members", n)
	}
}

func TestHandle_RejectsBadInput(t *testing.T) {
	imp := importer.New(memory.New(), nil)

	tests := []struct {
		name string
		p    importer.Payload
	}{
		{"no user", importer.Payload{GroupName: "g", File: []byte("x")}},
		{"no group", importer.Payload{UserID: "u1", File: []byte("x")}},
		{"empty file", importer.Payload{UserID: "u1", GroupName: "g"}},
		{"not a spreadsheet", importer.Payload{UserID: "u1", GroupName: "g", File: []byte("name,phone\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := imp.Handle(context.Background(), tt.p)
			if !errors.Is(err, herald.ErrValidation) || !job.IsPermanent(err) {
				t.Errorf("err = %v, want permanent validation error", err)
			}
		})
	}
}
