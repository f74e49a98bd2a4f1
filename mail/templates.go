package mail

// Template is a text/template pair rendered with TemplateData.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// TemplateData is the data passed to templates.
type TemplateData struct {
	Code      string
	Purpose   string
	ExpiresIn string
}

// FallbackTemplate is used for purposes without a registered template.
var FallbackTemplate = Template{
	Subject: "Your verification code",
	Body: `Your verification code is below.

Code: {{.Code}}

It expires in {{.ExpiresIn}}. If you did not request it, ignore this email.
`,
}

// DefaultTemplates holds the built-in templates keyed by purpose name.
var DefaultTemplates = map[string]Template{
	"registration": {
		Subject: "Confirm your account",
		Body: `Welcome! Use this code to activate your account.

Code: {{.Code}}

It expires in {{.ExpiresIn}}.
`,
	},
	"password_reset": {
		Subject: "Password reset code",
		Body: `We received a request to reset the password for your account.

Code: {{.Code}}

It expires in {{.ExpiresIn}}. If you did not request a reset, ignore this email.
`,
	},
	"email_change": {
		Subject: "Confirm your new email address",
		Body: `Use this code to confirm the new email address on your account.

Code: {{.Code}}

It expires in {{.ExpiresIn}}.
`,
	},
}
