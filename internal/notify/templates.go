package notify

import "fmt"

// Template keys.  They match the keys the membership platform uses in
// its email template editor.
const (
	KeyScheduled      = "delayed_downgrade_scheduled"
	KeyScheduledAdmin = "delayed_downgrade_scheduled_admin"
	KeyProcessed      = "delayed_downgrade_processed"
	KeyProcessedAdmin = "delayed_downgrade_processed_admin"
	KeyErrorAdmin     = "delayed_downgrade_error_admin"
)

// Recipient selects who receives a template.
type Recipient int

const (
	RecipientMember Recipient = iota
	RecipientAdmin
)

// Template describes one email: its metadata for the template editor,
// the default subject and body, and the variables it documents.
type Template struct {
	Key         string
	Name        string
	Description string
	HelpText    string
	// subjectFormat takes the site name as its only argument.
	subjectFormat string
	Body          string
	Variables     map[string]string
	Recipient     Recipient
}

// DefaultSubject returns the subject line for siteName.
func (t Template) DefaultSubject(siteName string) string {
	return fmt.Sprintf(t.subjectFormat, siteName)
}

var variableDocs = map[string]string{
	"!!display_name!!":              "The user's display name.",
	"!!sitename!!":                  "The name of the site.",
	"!!login_url!!":                 "The URL of the login page.",
	"!!edit_member_downgrade_url!!": "The URL to edit the member's downgrade.",
	"!!pmprorate_downgrade_text!!":  "The details of the scheduled downgrade.",
}

func docs(tokens ...string) map[string]string {
	out := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		out[tok] = variableDocs[tok]
	}
	return out
}

const scheduledBody = `<p>!!pmprorate_downgrade_text!!</p>
<p>Log in to view your account here: !!login_url!!</p>
`

const scheduledAdminBody = `<p>A downgrade for !!display_name!! has been scheduled at !!sitename!!.</p>
<p>View the user's downgrade information here: !!edit_member_downgrade_url!!</p>
`

const processedBody = `<p>Your downgrade has been successfully processed.</p>
<p>Log in to view your account here: !!login_url!!</p>
`

const processedAdminBody = `<p>A downgrade for !!display_name!! has been successfully processed at !!sitename!!.</p>
<p>View the user's downgrade information here: !!edit_member_downgrade_url!!</p>
`

const errorAdminBody = `<p>There was an error processing a downgrade for !!display_name!! at !!sitename!!.</p>
<p>View the user's downgrade information here: !!edit_member_downgrade_url!!</p>
`

// Templates returns the five downgrade templates in registration order.
func Templates() []Template {
	return []Template{
		{
			Key:           KeyScheduled,
			Name:          "Proration Downgrade Scheduled",
			Description:   "This email is sent when a membership downgrade is scheduled.",
			HelpText:      "This email is sent when a membership downgrade is scheduled. The !!pmprorate_downgrade_text!! placeholder variable can be used to display the details of the downgrade.",
			subjectFormat: "Your downgrade has been scheduled at %s",
			Body:          scheduledBody,
			Variables:     docs("!!display_name!!", "!!sitename!!", "!!login_url!!", "!!pmprorate_downgrade_text!!"),
			Recipient:     RecipientMember,
		},
		{
			Key:           KeyScheduledAdmin,
			Name:          "Proration Downgrade Scheduled (Admin)",
			Description:   "This email is sent to the admin when a membership downgrade is scheduled.",
			HelpText:      "This email is sent when a membership downgrade is scheduled. The !!edit_member_downgrade_url!! placeholder variable can be used to show a link to the downgrades list.",
			subjectFormat: "A downgrade has been scheduled at %s",
			Body:          scheduledAdminBody,
			Variables:     docs("!!display_name!!", "!!sitename!!", "!!edit_member_downgrade_url!!"),
			Recipient:     RecipientAdmin,
		},
		{
			Key:           KeyProcessed,
			Name:          "Proration Downgrade Processed",
			Description:   "This email is sent when a membership downgrade is processed.",
			HelpText:      "This email is sent when a membership downgrade is processed.",
			subjectFormat: "Your downgrade has been processed at %s",
			Body:          processedBody,
			Variables:     docs("!!display_name!!", "!!sitename!!", "!!login_url!!", "!!edit_member_downgrade_url!!"),
			Recipient:     RecipientMember,
		},
		{
			Key:           KeyProcessedAdmin,
			Name:          "Proration Downgrade Processed (Admin)",
			Description:   "This email is sent to the admin when a membership downgrade is processed.",
			HelpText:      "This email is sent when a membership downgrade is processed. The !!edit_member_downgrade_url!! placeholder variable can be used to show a link to the downgrades list.",
			subjectFormat: "A downgrade has been processed at %s",
			Body:          processedAdminBody,
			Variables:     docs("!!display_name!!", "!!sitename!!", "!!edit_member_downgrade_url!!"),
			Recipient:     RecipientAdmin,
		},
		{
			Key:           KeyErrorAdmin,
			Name:          "Proration Downgrade Error (Admin)",
			Description:   "This email is sent to the admin when there is an error processing a membership downgrade.",
			HelpText:      "This email is sent when there is an error processing a membership downgrade. The !!edit_member_downgrade_url!! placeholder variable can be used to show a link to the downgrades list.",
			subjectFormat: "There was an error processing a downgrade at %s",
			Body:          errorAdminBody,
			Variables:     docs("!!display_name!!", "!!sitename!!", "!!edit_member_downgrade_url!!"),
			Recipient:     RecipientAdmin,
		},
	}
}

// Lookup returns the template registered under key.
func Lookup(key string) (Template, bool) {
	for _, t := range Templates() {
		if t.Key == key {
			return t, true
		}
	}
	return Template{}, false
}
