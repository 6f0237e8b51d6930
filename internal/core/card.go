package core

// Card is the board-facing view of a task.
type Card struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Project       string     `json:"project"`
	Goal          string     `json:"goal"`
	Description   string     `json:"description"`
	Priority      string     `json:"priority"`
	StartDate     string     `json:"startDate"`
	DueDate       string     `json:"dueDate"`
	Proof         string     `json:"proof"`
	Status        TaskStatus `json:"status"`
	IsStuck       bool       `json:"isStuck"`
	HasDependency bool       `json:"hasDependency"`
}

const cardDateLayout = "2006-01-02"

// ToCard maps a stored task onto its card view. Fields the card does not
// carry (members, timeline, leader, alarms) are dropped; empty strings are
// kept as empty strings. Dates are rendered in UTC.
func ToCard(t *Task) Card {
	return Card{
		ID:            t.ID,
		Title:         t.Title,
		Project:       t.ProjectType,
		Goal:          t.Partner,
		Description:   t.Description,
		Priority:      cardPriority(t.Priority),
		StartDate:     t.CreatedAt.UTC().Format(cardDateLayout),
		DueDate:       t.Deadline.UTC().Format(cardDateLayout),
		Proof:         t.Note,
		Status:        t.Status,
		IsStuck:       t.Status == TaskStatusStuck,
		HasDependency: len(t.Dependencies) > 0,
	}
}

// Unknown priorities render as "Low".
func cardPriority(p Priority) string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMid:
		return "Medium"
	default:
		return "Low"
	}
}
