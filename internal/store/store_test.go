package store

import (
	"testing"
	"time"

	"github.com/docport/docport/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBuildRoundTrip(t *testing.T) {
	st := testStore(t)

	b := &types.Build{
		ID:           "b1",
		Name:         "document-portal",
		Tag:          "v1",
		ImageRef:     "localhost/docport/document-portal:v1",
		RecipeDigest: "aaa",
		DepsDigest:   "bbb",
		Status:       types.BuildStatusBuilding,
		CreatedAt:    time.Now(),
	}
	if err := st.RecordBuild(b); err != nil {
		t.Fatalf("RecordBuild error: %v", err)
	}

	b.ImageID = "sha256:deadbeef"
	b.Status = types.BuildStatusSucceeded
	b.DurationMS = 1234
	if err := st.UpdateBuild(b); err != nil {
		t.Fatalf("UpdateBuild error: %v", err)
	}

	got, err := st.GetBuild("b1")
	if err != nil {
		t.Fatalf("GetBuild error: %v", err)
	}
	if got.Status != types.BuildStatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.ImageID != "sha256:deadbeef" {
		t.Errorf("image ID = %s", got.ImageID)
	}
	if got.DurationMS != 1234 {
		t.Errorf("duration = %d", got.DurationMS)
	}
	if got.RecipeDigest != "aaa" || got.DepsDigest != "bbb" {
		t.Errorf("digests lost: %+v", got)
	}
}

func TestGetBuild_NotFound(t *testing.T) {
	st := testStore(t)
	if _, err := st.GetBuild("nope"); err == nil {
		t.Error("expected error for unknown build")
	}
}

func TestListBuilds(t *testing.T) {
	st := testStore(t)

	for i, id := range []string{"b1", "b2"} {
		b := &types.Build{
			ID:           id,
			Name:         "document-portal",
			Tag:          "v1",
			ImageRef:     "ref",
			RecipeDigest: "a",
			DepsDigest:   "b",
			Status:       types.BuildStatusSucceeded,
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.RecordBuild(b); err != nil {
			t.Fatalf("RecordBuild error: %v", err)
		}
	}

	builds, err := st.ListBuilds()
	if err != nil {
		t.Fatalf("ListBuilds error: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}
	if builds[0].ID != "b2" {
		t.Errorf("expected newest first, got %s", builds[0].ID)
	}
}

func TestDeleteBuild(t *testing.T) {
	st := testStore(t)

	b := &types.Build{ID: "b1", Name: "n", Tag: "t", ImageRef: "r",
		RecipeDigest: "a", DepsDigest: "b",
		Status: types.BuildStatusSucceeded, CreatedAt: time.Now()}
	if err := st.RecordBuild(b); err != nil {
		t.Fatalf("RecordBuild error: %v", err)
	}

	if err := st.DeleteBuild("b1"); err != nil {
		t.Fatalf("DeleteBuild error: %v", err)
	}
	if _, err := st.GetBuild("b1"); err == nil {
		t.Error("expected build gone after delete")
	}
	if err := st.DeleteBuild("b1"); err == nil {
		t.Error("expected error deleting missing build")
	}
}

func TestInstanceLifecycle(t *testing.T) {
	st := testStore(t)

	inst := &types.Instance{
		ID:        "i1",
		BuildID:   "b1",
		ImageRef:  "ref",
		Port:      8000,
		Workers:   4,
		Status:    types.InstanceStatusCreated,
		StartedAt: time.Now(),
	}
	if err := st.RecordInstance(inst); err != nil {
		t.Fatalf("RecordInstance error: %v", err)
	}

	if err := st.UpdateInstanceStatus("i1", types.InstanceStatusRunning, ""); err != nil {
		t.Fatalf("UpdateInstanceStatus error: %v", err)
	}
	got, err := st.GetInstance("i1")
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if got.Status != types.InstanceStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}

	if err := st.UpdateInstanceStatus("i1", types.InstanceStatusStopped, ""); err != nil {
		t.Fatalf("UpdateInstanceStatus error: %v", err)
	}
	got, err = st.GetInstance("i1")
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if got.Status != types.InstanceStatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
}

func TestInstanceFailureRecordsError(t *testing.T) {
	st := testStore(t)

	inst := &types.Instance{ID: "i1", ImageRef: "ref", Port: 8000, Workers: 4,
		Status: types.InstanceStatusCreated, StartedAt: time.Now()}
	if err := st.RecordInstance(inst); err != nil {
		t.Fatalf("RecordInstance error: %v", err)
	}

	if err := st.UpdateInstanceStatus("i1", types.InstanceStatusFailed, "port already in use"); err != nil {
		t.Fatalf("UpdateInstanceStatus error: %v", err)
	}
	got, err := st.GetInstance("i1")
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	if got.Error != "port already in use" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestEventSyncFlow(t *testing.T) {
	st := testStore(t)

	// Lifecycle writes produce events as a side effect.
	b := &types.Build{ID: "b1", Name: "n", Tag: "t", ImageRef: "r",
		RecipeDigest: "a", DepsDigest: "b",
		Status: types.BuildStatusSucceeded, CreatedAt: time.Now()}
	if err := st.RecordBuild(b); err != nil {
		t.Fatalf("RecordBuild error: %v", err)
	}
	if err := st.LogEvent("instance.running", map[string]string{"instanceID": "i1"}); err != nil {
		t.Fatalf("LogEvent error: %v", err)
	}

	events, err := st.GetUnsyncedEvents(100)
	if err != nil {
		t.Fatalf("GetUnsyncedEvents error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 unsynced events, got %d", len(events))
	}
	if events[0].Type != "build.succeeded" {
		t.Errorf("event type = %s", events[0].Type)
	}

	ids := []int64{events[0].ID, events[1].ID}
	if err := st.MarkEventsSynced(ids); err != nil {
		t.Fatalf("MarkEventsSynced error: %v", err)
	}

	events, err = st.GetUnsyncedEvents(100)
	if err != nil {
		t.Fatalf("GetUnsyncedEvents error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no unsynced events after marking, got %d", len(events))
	}
}

func TestMarkEventsSynced_Empty(t *testing.T) {
	st := testStore(t)
	if err := st.MarkEventsSynced(nil); err != nil {
		t.Errorf("MarkEventsSynced(nil) error: %v", err)
	}
}
