package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vimaru-ai/seatutor-backend/internal/moderation"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// personaFor returns the role-specific opening of the system prompt. Unknown
// roles get the student persona.
func personaFor(role string) string {
	switch role {
	case RoleTeacher:
		return `Bạn là trợ lý chuyên môn cho giảng viên hàng hải. Trả lời chính xác,
trích dẫn điều khoản cụ thể (COLREGs, SOLAS, MARPOL, STCW) kèm số trang,
và ưu tiên độ đầy đủ hơn sự đơn giản. Khi giảng viên cần tài liệu giảng
dạy, đề xuất cấu trúc bài giảng và câu hỏi kiểm tra.`
	case RoleAdmin:
		return `Bạn là trợ lý vận hành hệ thống đào tạo hàng hải. Trả lời ngắn gọn,
chính xác về nội dung kho kiến thức và các quy định. Không suy đoán khi
thiếu nguồn.`
	default:
		return `Bạn là gia sư hàng hải thân thiện cho sinh viên Việt Nam. Giải thích
các quy định hàng hải (COLREGs, SOLAS, MARPOL, STCW) bằng ngôn ngữ dễ
hiểu, dùng ví dụ tình huống thực tế trên biển, và luôn dẫn nguồn theo
điều khoản và số trang khi dùng công cụ tra cứu. Trả lời bằng ngôn ngữ
người học đang dùng.`
	}
}

// composeSystemPrompt builds the full system prompt for one turn.
func composeSystemPrompt(role string, profile *types.LearningProfile, facts []*types.UserFact, pronouns *moderation.Pronouns, continuation string) string {
	var sb strings.Builder
	sb.WriteString(personaFor(role))

	if profile != nil && role == RoleStudent {
		fmt.Fprintf(&sb, "\n\nTrình độ người học: %s.", profile.Level)
		if profile.LearningStyle != nil && *profile.LearningStyle != "" {
			fmt.Fprintf(&sb, " Phong cách học: %s.", *profile.LearningStyle)
		}
	}

	if pronouns != nil {
		var parts []string
		if pronouns.UserCalled != "" {
			parts = append(parts, fmt.Sprintf("gọi người dùng là %q", pronouns.UserCalled))
		}
		if pronouns.AISelf != "" {
			parts = append(parts, fmt.Sprintf("xưng %q", pronouns.AISelf))
		}
		if len(parts) > 0 {
			sb.WriteString("\n\nCách xưng hô: " + strings.Join(parts, ", ") + ".")
		}
	}

	if len(facts) > 0 {
		sb.WriteString("\n\nNhững điều đã biết về người dùng:")
		for _, f := range facts {
			fmt.Fprintf(&sb, "\n- [%s] %s", f.FactType, f.Content)
		}
	}

	if continuation != "" {
		sb.WriteString("\n\n" + continuation)
	}

	sb.WriteString(`

Khi cần suy luận trước khi trả lời, đặt phần suy luận trong thẻ
<thinking>...</thinking> rồi viết câu trả lời cuối cùng bên ngoài thẻ.`)

	return sb.String()
}
