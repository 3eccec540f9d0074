package session

// PartType discriminates the MessagePart variants.
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeImage     PartType = "image"
	PartTypeLoading   PartType = "loading"
	PartTypeToolTrace PartType = "toolTrace"
)

// MessagePart is one displayable fragment of a message. Exactly one of
// the variant fields is set, matching Type.
type MessagePart struct {
	Type      PartType            `json:"type"`
	Text      string              `json:"text,omitempty"`
	Image     *ImageAttachment    `json:"image,omitempty"`
	Loading   *SystemLoadingState `json:"loading,omitempty"`
	ToolTrace *ToolTrace          `json:"toolTrace,omitempty"`
}

type ImageAttachment struct {
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type ToolTrace struct {
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input"`
	Code      string         `json:"code,omitempty"`
	Result    string         `json:"result,omitempty"`
	ChartPath string         `json:"chartPath,omitempty"`
}

func TextPart(content string) MessagePart {
	return MessagePart{Type: PartTypeText, Text: content}
}

func ImagePart(url, filename, mediaType string) MessagePart {
	return MessagePart{
		Type:  PartTypeImage,
		Image: &ImageAttachment{URL: url, Filename: filename, MediaType: mediaType},
	}
}

func LoadingPart(state SystemLoadingState) MessagePart {
	snapshot := state
	return MessagePart{Type: PartTypeLoading, Loading: &snapshot}
}

func ToolTracePart(trace ToolTrace) MessagePart {
	return MessagePart{Type: PartTypeToolTrace, ToolTrace: &trace}
}
