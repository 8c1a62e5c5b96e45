package db

import (
	"context"
	"errors"
	"testing"

	"tripsync/models"
)

func TestMemoryStoreRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec, err := m.Insert(ctx, models.ItineraryRecord{Destination: "Tulum", UserID: "owner"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ItineraryID == "" || rec.Document == nil {
		t.Fatalf("inserted = %+v", rec)
	}

	rec.Destination = "Bacalar"
	rec.UserID = "someone-else"
	updated, err := m.Update(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Destination != "Bacalar" || updated.UserID != "owner" {
		t.Fatalf("update must not change the owner: %+v", updated)
	}

	if _, err := m.SetShare(ctx, rec.ItineraryID, "tok", true); err != nil {
		t.Fatal(err)
	}
	shared, err := m.GetByShareToken(ctx, "tok")
	if err != nil || shared.ItineraryID != rec.ItineraryID || !shared.IsPublic {
		t.Fatalf("shared = %+v, %v", shared, err)
	}
	if m.WriteCount() != 3 {
		t.Fatalf("writes = %d", m.WriteCount())
	}

	if err := m.Delete(ctx, rec.ItineraryID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, rec.ItineraryID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestMemoryStoreFailWrites(t *testing.T) {
	m := NewMemoryStore()
	boom := errors.New("boom")
	m.FailWrites(boom)
	if _, err := m.Insert(context.Background(), models.ItineraryRecord{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if m.WriteCount() != 0 {
		t.Fatal("failed write was counted")
	}
}

func TestMemoryStoreCollaborators(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first, _ := m.AddCollaborator(ctx, models.Collaborator{ItineraryID: "it1", Email: " Ana@Example.com", Permission: models.PermissionViewer})
	again, _ := m.AddCollaborator(ctx, models.Collaborator{ItineraryID: "it1", Email: "ana@example.com", Permission: models.PermissionEditor})
	if first.ID != again.ID {
		t.Fatalf("same email should upsert: %s vs %s", first.ID, again.ID)
	}

	list, _ := m.ListCollaborators(ctx, "it1")
	if len(list) != 1 || list[0].Permission != models.PermissionEditor {
		t.Fatalf("list = %+v", list)
	}

	if err := m.RemoveCollaborator(ctx, "it1", first.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveCollaborator(ctx, "it1", first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: %v", err)
	}
}
