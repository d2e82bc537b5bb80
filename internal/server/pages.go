package server

import (
	"html/template"
)

// The three browser-facing documents. The device UI is deliberately plain;
// anything richer belongs on the workstation side.

var statusTmpl = template.Must(template.New("status").Parse(`<!doctype html>
<html><head><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Trap Monitor</title></head><body>
<h1>Trap Monitor</h1>
<p>Address: {{.Address}}</p>
<p>Firmware: {{.Version}} (slot {{.Slot}})</p>
<p>Radio: {{if .RadioPresent}}present{{else}}not present{{end}}</p>
<p>Update session: {{.SessionState}}</p>
{{if .Uptime}}<p>Uptime: {{.Uptime}}</p>{{end}}
<p><a href="/update">Go to /update</a></p>
</body></html>
`))

var formTmpl = template.Must(template.New("form").Parse(`<!doctype html>
<html><head><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Upload firmware</title></head><body>
<h2>Upload new firmware (.bin)</h2>
<form method="POST" action="/update" enctype="multipart/form-data">
<input type="file" name="firmware" accept=".bin">
<input type="submit" value="Update">
</form>
</body></html>
`))

type statusPageData struct {
	Address      string
	Version      string
	Slot         string
	RadioPresent bool
	SessionState string
	Uptime       string
}

// Result bodies for the upload route. These are the device's contract with
// the push tooling; do not reword them.
const (
	resultOK     = "Update OK. Rebooting..."
	resultFailed = "Update FAILED"
)
