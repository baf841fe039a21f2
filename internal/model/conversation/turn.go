package conversation

import "time"

// Role tags a turn with its author.
type Role string

const (
	RoleUser    Role = "user"
	RoleModel   Role = "model"
	RoleContext Role = "context"
)

// Turn is one entry in a session transcript. User and model turns carry
// Text; context turns carry Page instead. The Page pointer doubles as the
// variant tag: it is non-nil exactly when Role is RoleContext.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	Page      *Page     `json:"page,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page holds the captured content of an ingested source document.
type Page struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	CapturedAt  time.Time `json:"capturedAt"`
	FullText    string    `json:"fullText,omitempty"`
	SummaryText string    `json:"summaryText,omitempty"`
}

// NewUserTurn builds a dialogue turn authored by the panel user.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, CreatedAt: time.Now().UTC()}
}

// NewModelTurn builds a dialogue turn holding a model reply.
func NewModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Text: text, CreatedAt: time.Now().UTC()}
}

// NewContextTurn builds a turn carrying captured page content.
func NewContextTurn(page Page) Turn {
	return Turn{Role: RoleContext, Page: &page, CreatedAt: time.Now().UTC()}
}

// IsDialogue reports whether the turn belongs to the running chat exchange.
func (t Turn) IsDialogue() bool {
	return t.Role == RoleUser || t.Role == RoleModel
}
