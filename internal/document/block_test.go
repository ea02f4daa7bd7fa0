package document

import "testing"

func TestEqualComparesByValueNotIdentity(t *testing.T) {
	left := []Block{
		{Type: "paragraph", Text: "hello", Children: []Block{{Type: "text", Text: "nested"}}},
	}
	right := []Block{
		{Type: "paragraph", Text: "hello", Children: []Block{{Type: "text", Text: "nested"}}},
	}

	if !Equal(left, right) {
		t.Fatalf("distinct trees with identical shape must be equal")
	}
}

func TestEqualDetectsDifferences(t *testing.T) {
	base := []Block{{Type: "paragraph", Text: "hello"}}

	tests := []struct {
		name  string
		other []Block
	}{
		{name: "different-text", other: []Block{{Type: "paragraph", Text: "world"}}},
		{name: "different-type", other: []Block{{Type: "heading", Text: "hello"}}},
		{name: "extra-block", other: []Block{{Type: "paragraph", Text: "hello"}, {Type: "paragraph"}}},
		{name: "extra-child", other: []Block{{Type: "paragraph", Text: "hello", Children: []Block{{Type: "text"}}}}},
		{name: "different-props", other: []Block{{Type: "paragraph", Text: "hello", Props: map[string]string{"level": "2"}}}},
		{name: "empty", other: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Equal(base, tt.other) {
				t.Fatalf("expected trees to differ")
			}
		})
	}
}

func TestEqualComparesProps(t *testing.T) {
	left := []Block{{Type: "heading", Text: "title", Props: map[string]string{"level": "1"}}}
	right := []Block{{Type: "heading", Text: "title", Props: map[string]string{"level": "1"}}}

	if !Equal(left, right) {
		t.Fatalf("identical props must compare equal")
	}

	right[0].Props["level"] = "2"
	if Equal(left, right) {
		t.Fatalf("differing prop values must compare unequal")
	}
}

func TestCloneProducesIndependentCopy(t *testing.T) {
	original := []Block{
		{
			Type:     "paragraph",
			Text:     "hello",
			Props:    map[string]string{"align": "left"},
			Children: []Block{{Type: "text", Text: "nested"}},
		},
	}

	copied := Clone(original)
	if !Equal(original, copied) {
		t.Fatalf("clone must be structurally equal to the source")
	}

	copied[0].Text = "mutated"
	copied[0].Props["align"] = "right"
	copied[0].Children[0].Text = "mutated-child"

	if original[0].Text != "hello" {
		t.Fatalf("mutating the clone leaked into the source text")
	}
	if original[0].Props["align"] != "left" {
		t.Fatalf("mutating the clone leaked into the source props")
	}
	if original[0].Children[0].Text != "nested" {
		t.Fatalf("mutating the clone leaked into the source children")
	}
}

func TestNormalizeCoercesEmptyContent(t *testing.T) {
	tests := []struct {
		name    string
		content []Block
	}{
		{name: "nil", content: nil},
		{name: "empty-slice", content: []Block{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized := Normalize(tt.content)
			if len(normalized) != 1 {
				t.Fatalf("expected single default block, got %d", len(normalized))
			}
			if normalized[0].Type != "paragraph" || normalized[0].Text != DefaultBlockText {
				t.Fatalf("unexpected default block: %#v", normalized[0])
			}
		})
	}
}

func TestNormalizeLeavesContentUntouched(t *testing.T) {
	content := []Block{{Type: "heading", Text: "title"}}
	normalized := Normalize(content)
	if !Equal(content, normalized) {
		t.Fatalf("non-empty content must pass through unchanged")
	}
}
