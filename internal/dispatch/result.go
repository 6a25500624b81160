package dispatch

// Result statuses.
const (
	StatusSuccess = "success"
	StatusIgnored = "ignored"
	StatusError   = "error"
	StatusPong    = "pong"
)

// Result is the JSON body returned for a handled delivery.
type Result struct {
	Status         string   `json:"status"`
	Event          string   `json:"event,omitempty"`
	Action         string   `json:"action,omitempty"`
	Issue          int      `json:"issue,omitempty"`
	Message        string   `json:"message,omitempty"`
	LabelsAdded    []string `json:"labels_added,omitempty"`
	OwnersAssigned []string `json:"owners_assigned,omitempty"`
	ChecklistAdded *bool    `json:"checklist_added,omitempty"`
	Tracked        *bool    `json:"tracked,omitempty"`
	Label          string   `json:"label,omitempty"`
	Size           string   `json:"size,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

func errorResult(message string) *Result {
	return &Result{Status: StatusError, Message: message}
}

func boolPtr(b bool) *bool { return &b }
