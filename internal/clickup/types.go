package clickup

// Member is one entry of a list's member roster.
type Member struct {
	User MemberUser `json:"user"`
}

// MemberUser carries the identifying fields of a member. Every textual
// field doubles as a lookup candidate for assignee resolution.
type MemberUser struct {
	ID       int64          `json:"id"`
	Username string         `json:"username"`
	Email    string         `json:"email"`
	Color    string         `json:"color"`
	Initials string         `json:"initials"`
	Profile  *MemberProfile `json:"profile,omitempty"`
}

// MemberProfile holds the optional profile block of a member.
type MemberProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

// TaskPayload is the create-task request body.
type TaskPayload struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Priority    int     `json:"priority"`
	DueDate     int64   `json:"due_date,omitempty"`
	Assignees   []int64 `json:"assignees,omitempty"`
}

// taskResponse covers both response shapes the create-task endpoint is
// known to produce: a top-level id or one nested under "task".
type taskResponse struct {
	ID   string `json:"id"`
	Task struct {
		ID string `json:"id"`
	} `json:"task"`
}

// listResponse is the slice of the get-list endpoint we care about.
type listResponse struct {
	Members []Member `json:"members"`
}

// reminderPayload is the create-reminder request body.
type reminderPayload struct {
	TaskID   string `json:"task_id"`
	RemindAt int64  `json:"remind_at"`
	Assignee int64  `json:"assignee,omitempty"`
}
