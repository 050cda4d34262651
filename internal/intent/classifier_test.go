package intent

import "testing"

func TestClassify_GreetingAlwaysGeneral(t *testing.T) {
	c := NewClassifier(Config{})

	cases := []string{
		"Xin chào, tôi là Minh",
		"hello",
		"Chào bạn, quy tắc tránh va là gì?",
		"My name is Anna and I study COLREGs",
	}
	for _, msg := range cases {
		got := c.Classify(msg, "")
		if got.Intent != General {
			t.Errorf("Classify(%q) intent = %s, want GENERAL", msg, got.Intent)
		}
		if got.Confidence != 1.0 {
			t.Errorf("Classify(%q) confidence = %v, want 1.0", msg, got.Confidence)
		}
	}
}

func TestClassify_ShortFollowUpInheritsHint(t *testing.T) {
	c := NewClassifier(Config{})

	got := c.Classify("tại sao vậy?", Teaching)
	if got.Intent != Teaching {
		t.Fatalf("intent = %s, want TEACHING (inherited)", got.Intent)
	}
	if got.Confidence != 0.85 {
		t.Fatalf("confidence = %v, want 0.85", got.Confidence)
	}
}

func TestClassify_ShortFollowUpWithoutHintDefaultsKnowledge(t *testing.T) {
	c := NewClassifier(Config{})

	got := c.Classify("what about rule 15?", "")
	if got.Intent != Knowledge {
		t.Fatalf("intent = %s, want KNOWLEDGE", got.Intent)
	}
	if got.Confidence != 0.85 {
		t.Fatalf("confidence = %v, want 0.85", got.Confidence)
	}
}

func TestClassify_KeywordScoring(t *testing.T) {
	c := NewClassifier(Config{})

	cases := []struct {
		message string
		want    Type
	}{
		{"Trong tình huống cắt hướng thì tàu nào phải nhường đường theo quy tắc tránh va?", Knowledge},
		{"Teach me about navigation lights step by step with an example please", Teaching},
		{"Thời tiết hôm nay thế nào nhỉ, mình đang chuẩn bị đi dạo công viên", General},
	}
	for _, tc := range cases {
		got := c.Classify(tc.message, "")
		if got.Intent != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.message, got.Intent, tc.want)
		}
	}
}

func TestClassify_TeachingWithoutDomainContentIsGeneral(t *testing.T) {
	c := NewClassifier(Config{})

	got := c.Classify("làm ơn hướng dẫn ôn tập giúp với bài kiểm tra sắp tới nhé", "")
	if got.Intent != General {
		t.Fatalf("intent = %s, want GENERAL for study request without maritime keywords", got.Intent)
	}
	if got.Confidence != 0.8 {
		t.Fatalf("confidence = %v, want 0.8", got.Confidence)
	}
}

func TestClassify_ConfidenceCappedAtOne(t *testing.T) {
	c := NewClassifier(Config{})

	msg := "Giải thích quy tắc tránh va cho tàu thuyền khi cắt hướng và vượt nhau, đèn hành trình, tín hiệu âm thanh theo colregs solas marpol"
	got := c.Classify(msg, "")
	if got.Confidence > 1.0 {
		t.Fatalf("confidence = %v, want <= 1.0", got.Confidence)
	}
	if got.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7 when keywords matched", got.Confidence)
	}
}

func TestClassify_EntitiesCapped(t *testing.T) {
	c := NewClassifier(Config{MaxEntities: 3})

	msg := "Explain rule for vessel collision crossing overtaking anchor lookout navigation radar colregs solas"
	got := c.Classify(msg, "")
	if len(got.Entities) > 3 {
		t.Fatalf("entities = %d, want <= 3", len(got.Entities))
	}
}
