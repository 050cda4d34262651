package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/repos/testutil"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

func TestEvictOverCap_KeepsTotalWithinCap(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	repo := NewFactRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	userID := "fact-user-" + uuid.NewString()
	base := time.Now().Add(-time.Hour).UTC()

	identity := &types.UserFact{
		UserID: userID, FactType: types.FactTypeUserIdentity, Content: "tên là Minh",
		CreatedAt: base, UpdatedAt: base,
	}
	if err := repo.UpsertSingleton(ctx, tx, identity); err != nil {
		t.Fatalf("upsert identity: %v", err)
	}
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i+1) * time.Minute)
		f := &types.UserFact{
			UserID: userID, FactType: types.FactTypeTopicPreference,
			Content:   fmt.Sprintf("chủ đề quan tâm số %d", i),
			CreatedAt: ts, UpdatedAt: ts,
		}
		if err := repo.Insert(ctx, tx, f); err != nil {
			t.Fatalf("insert fact %d: %v", i, err)
		}
	}

	// 5 rows against a cap of 3: identity counts toward the cap, so the two
	// oldest list facts must go.
	deleted, err := repo.EvictOverCap(ctx, tx, userID, 3)
	if err != nil {
		t.Fatalf("EvictOverCap: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	total, err := repo.CountByUser(ctx, tx, userID)
	if err != nil {
		t.Fatalf("CountByUser: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want the cap of 3", total)
	}

	ids, err := repo.ListByType(ctx, tx, userID, types.FactTypeUserIdentity)
	if err != nil {
		t.Fatalf("ListByType identity: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("identity rows = %d, want 1 (never evicted)", len(ids))
	}

	prefs, err := repo.ListByType(ctx, tx, userID, types.FactTypeTopicPreference)
	if err != nil {
		t.Fatalf("ListByType prefs: %v", err)
	}
	if len(prefs) != 2 || prefs[0].Content != "chủ đề quan tâm số 3" || prefs[1].Content != "chủ đề quan tâm số 2" {
		t.Fatalf("eviction must drop the oldest facts first, got %+v", prefs)
	}

	// Under the cap nothing moves.
	if n, err := repo.EvictOverCap(ctx, tx, userID, 10); err != nil || n != 0 {
		t.Fatalf("under-cap eviction = %d, %v; want 0, nil", n, err)
	}
}

func TestDeleteByID_ScopedToOwner(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	repo := NewFactRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	owner := "fact-user-" + uuid.NewString()
	fact := &types.UserFact{UserID: owner, FactType: types.FactTypeGoal, Content: "thi chứng chỉ hàng hải"}
	if err := repo.Insert(ctx, tx, fact); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if n, err := repo.DeleteByID(ctx, tx, "someone-else", fact.ID); err != nil || n != 0 {
		t.Fatalf("cross-user delete = %d, %v; want 0, nil", n, err)
	}
	if n, err := repo.DeleteByID(ctx, tx, owner, fact.ID); err != nil || n != 1 {
		t.Fatalf("owner delete = %d, %v; want 1, nil", n, err)
	}
}
