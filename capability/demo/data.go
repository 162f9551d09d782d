package demo

// Canned workspace data backing the demo capabilities. Stands in for the
// real mail/calendar/task integrations, which live behind external tools.

type email struct {
	From     string
	Subject  string
	Snippet  string
	Priority string
	Unread   bool
}

type event struct {
	Title     string
	Start     string
	Attendees []string
	Today     bool
}

type todo struct {
	Title    string
	Priority string
	Due      string
	Done     bool
}

var demoEmails = []email{
	{
		From:     "sarah.chen@acme-corp.example",
		Subject:  "Q3 roadmap review - need your slides by EOD",
		Snippet:  "Hi, the leadership sync moved up to Thursday. Could you share the roadmap slides today?",
		Priority: "urgent",
		Unread:   true,
	},
	{
		From:     "noreply@build.example",
		Subject:  "Nightly build #4312 failed",
		Snippet:  "Stage integration-tests failed after 14m32s.",
		Priority: "high",
		Unread:   true,
	},
	{
		From:     "marco@vendor.example",
		Subject:  "Renewal quote attached",
		Snippet:  "As discussed, the renewal quote is attached. Happy to hop on a call this week.",
		Priority: "medium",
		Unread:   false,
	},
}

var demoEvents = []event{
	{
		Title:     "Roadmap review",
		Start:     "10:00",
		Attendees: []string{"sarah.chen", "dev-leads"},
		Today:     true,
	},
	{
		Title:     "1:1 with Sam",
		Start:     "14:30",
		Attendees: []string{"sam"},
		Today:     true,
	},
	{
		Title:     "Vendor renewal call",
		Start:     "Thu 11:00",
		Attendees: []string{"marco", "procurement"},
		Today:     false,
	},
}

var demoTodos = []todo{
	{Title: "Finish roadmap slides", Priority: "urgent", Due: "today"},
	{Title: "Review build failure #4312", Priority: "high", Due: "today"},
	{Title: "Draft renewal counter-offer", Priority: "medium", Due: "this week"},
	{Title: "Update onboarding doc", Priority: "low", Due: "next week"},
}
