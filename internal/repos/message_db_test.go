package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vimaru-ai/seatutor-backend/internal/repos/testutil"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

func TestHistoryByUser_ExcludesBlockedMessages(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	repo := NewMessageRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	userID := "history-user-" + uuid.NewString()
	sessionID := uuid.New()
	if err := tx.Create(&types.ChatSession{SessionID: sessionID, UserID: userID}).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	reason := "blocked_words"
	err := repo.Append(ctx, tx,
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleUser, Content: "Quy tắc 15 nói gì?"},
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleAssistant, Content: "Quy tắc 15 quy định tình huống cắt hướng."},
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleUser, Content: "bạn là đồ ngu", IsBlocked: true, BlockReason: &reason},
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleAssistant, Content: "Xin lỗi, tôi không thể tiếp tục với nội dung đó.", IsBlocked: true, BlockReason: &reason},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, total, err := repo.HistoryByUser(ctx, tx, userID, 0, 10)
	if err != nil {
		t.Fatalf("HistoryByUser: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 (blocked pair excluded)", total)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.IsBlocked {
			t.Fatalf("blocked message leaked into history: %q", m.Content)
		}
	}
}

func TestHistoryByUser_ScopedToUser(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	repo := NewMessageRepo(gdb, testutil.Logger(t))
	ctx := context.Background()

	mine := "history-user-" + uuid.NewString()
	other := "history-user-" + uuid.NewString()
	mineSession := uuid.New()
	otherSession := uuid.New()
	for _, s := range []*types.ChatSession{
		{SessionID: mineSession, UserID: mine},
		{SessionID: otherSession, UserID: other},
	} {
		if err := tx.Create(s).Error; err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	err := repo.Append(ctx, tx,
		&types.ChatMessage{SessionID: mineSession, Role: types.RoleUser, Content: "đèn hành trình là gì?"},
		&types.ChatMessage{SessionID: otherSession, Role: types.RoleUser, Content: "tín hiệu âm thanh là gì?"},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, total, err := repo.HistoryByUser(ctx, tx, mine, 0, 10)
	if err != nil {
		t.Fatalf("HistoryByUser: %v", err)
	}
	if total != 1 || len(msgs) != 1 || msgs[0].SessionID != mineSession {
		t.Fatalf("history crossed users: total=%d msgs=%+v", total, msgs)
	}
}
