package prompt

// Part is one text fragment of a content entry, matching the completion
// endpoint's `parts` wire field.
type Part struct {
	Text string `json:"text"`
}

// Content is one role-tagged entry in the outgoing request. Role is always
// "user" or "model" on the wire; context turns are remapped before they get
// here.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// CompiledRequest is the compiler's output: the ordered turn sequence plus
// the fixed system instruction, ready to be forwarded verbatim. It is built
// fresh per send and never persisted.
type CompiledRequest struct {
	SystemInstruction string
	Contents          []Content
}

// UserContent wraps text as a single-part user entry.
func UserContent(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

// ModelContent wraps text as a single-part model entry.
func ModelContent(text string) Content {
	return Content{Role: "model", Parts: []Part{{Text: text}}}
}
