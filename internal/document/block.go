package document

// DefaultBlockText is the placeholder text seeded into empty documents.
const DefaultBlockText = "Start writing..."

const blockTypeParagraph = "paragraph"

// Block is one node of the rich-text content tree. The tree structure is
// opaque to the synchronization core; only structural equality and deep
// copying matter here.
type Block struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
	Children []Block           `json:"children,omitempty"`
}

// DefaultContent returns the canonical single paragraph used for documents
// with empty or missing content.
func DefaultContent() []Block {
	return []Block{{Type: blockTypeParagraph, Text: DefaultBlockText}}
}

// Normalize coerces empty content to the canonical default block. Non-empty
// content is returned unchanged.
func Normalize(content []Block) []Block {
	if len(content) == 0 {
		return DefaultContent()
	}
	return content
}

// Clone returns a deep copy of the content tree. Later in-place edits to the
// source must never be observable through the copy.
func Clone(content []Block) []Block {
	if content == nil {
		return nil
	}
	copied := make([]Block, len(content))
	for i, block := range content {
		copied[i] = cloneBlock(block)
	}
	return copied
}

func cloneBlock(block Block) Block {
	copied := Block{
		Type: block.Type,
		Text: block.Text,
	}
	if block.Props != nil {
		copied.Props = make(map[string]string, len(block.Props))
		for key, value := range block.Props {
			copied.Props[key] = value
		}
	}
	copied.Children = Clone(block.Children)
	return copied
}

// Equal reports structural equality of two content trees. Comparison is by
// value, never by identity: two distinct trees with identical shape and text
// are equal.
func Equal(left, right []Block) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !equalBlock(left[i], right[i]) {
			return false
		}
	}
	return true
}

func equalBlock(left, right Block) bool {
	if left.Type != right.Type || left.Text != right.Text {
		return false
	}
	if len(left.Props) != len(right.Props) {
		return false
	}
	for key, value := range left.Props {
		other, ok := right.Props[key]
		if !ok || other != value {
			return false
		}
	}
	return Equal(left.Children, right.Children)
}
