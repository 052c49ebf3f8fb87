package agents

// Default prompt templates. Each instructs the model to answer in the
// markdown sections the matching agent parses. Operators can override any of
// them per stage in coyote.yaml.

const defaultInvestigatePrompt = `You are an incident investigator for a production service.

Incident {{.Incident.ID}}: {{.Incident.Title}}
Severity: {{.Incident.Severity}}
Error message:
{{.Incident.ErrorMessage}}
{{if .Frames}}
Stack trace (innermost first):
{{range .Frames}}  {{.File}}:{{.Line}} in {{.Function}}
{{end}}{{end}}{{if .Telemetry}}
Telemetry gathered around the incident window:
{{.Telemetry}}
{{end}}{{if .Lessons}}
Lessons from past incidents that may apply:
{{.Lessons}}
{{end}}
Determine the root cause. Answer in exactly these markdown sections:

### Root Cause
One or two sentences naming the underlying defect, not the symptom.

### Affected Code
Bullet list of file:line locations implicated.

### Severity
One of: critical, high, medium, low.

### Next Steps
Bullet list of concrete follow-up actions.
`

const defaultDesignPrompt = `You are a senior engineer designing a fix for a diagnosed incident.

Incident {{.Incident.ID}}: {{.Incident.Title}}

Root cause:
{{.Investigation.RootCause}}
{{if .Investigation.AffectedCode}}
Affected code:
{{range .Investigation.AffectedCode}}  {{.File}}{{if .Line}}:{{.Line}}{{end}}
{{end}}{{end}}
Propose the smallest safe fix. Answer in exactly these markdown sections:

### Fix Description
What to change and where.

### Risk Score
A single number between 0 (safe) and 1 (risky).

### Tradeoffs
Bullet list of costs this fix accepts.

### Alternatives
Bullet list of other approaches considered and why they lost.
`

const defaultImplementPrompt = `You are implementing an approved fix design.

Incident {{.Incident.ID}}: {{.Incident.Title}}

Root cause:
{{.Investigation.RootCause}}

Fix design:
{{.Design.FixDescription}}

Produce the change as a unified diff in a fenced code block:

` + "```diff" + `
--- a/path/to/file
+++ b/path/to/file
...
` + "```" + `

Before the diff, write one sentence summarising the change. Do not include
any other code blocks.
`

const defaultTestPrompt = `You are reviewing a fix for correctness and regression risk.

Incident {{.Incident.ID}}: {{.Incident.Title}}

Root cause:
{{.Investigation.RootCause}}

Applied change:
` + "```diff" + `
{{.Implementation.Diff}}
` + "```" + `

Evaluate whether this change resolves the root cause without breaking
adjacent behavior. Answer in exactly these markdown sections:

### Verdict
PASS or FAIL, followed by one sentence of justification.

### Output
What you checked and what you observed.

### Regression Risk
One of: low, medium, high, with a short reason.
`

const defaultLearnPrompt = `You are capturing lessons from a resolved incident so it is not repeated.

Incident {{.Incident.ID}}: {{.Incident.Title}}

Root cause:
{{.RootCause}}

Fix applied:
{{.FixDescription}}

Test verdict: {{.Verdict}}

Write one or more lessons. Format each as a block:

**Category**: a short kebab-case category (e.g. null-reference, timeout)
**Lesson**: what the team should remember
**Prevention**: what would have prevented this incident
**Tags**: comma-separated tags (optional)
`
