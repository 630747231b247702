package fragserver

import "html/template"

var templates = template.Must(template.New("pages").Parse(`
{{define "tag"}}{{if eq .Element "link"}}<link id="{{.ID}}" rel="{{.Key}}" href="{{.Value}}">{{else if eq .KeyAttr "property"}}<meta id="{{.ID}}" property="{{.Key}}" content="{{.Value}}">{{else}}<meta id="{{.ID}}" name="{{.Key}}" content="{{.Value}}">{{end}}{{end}}

{{define "payload"}}<script id="{{.NavDataID}}" type="application/json">{{.Payload}}</script>{{end}}

{{define "root"}}<div id="{{.ContentID}}" data-page="{{.PageType}}">{{.Content}}</div>{{end}}

{{define "document"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Model.Title}}</title>
{{range .Tags}}{{template "tag" .}}
{{end}}</head>
<body{{with .Model.BodyClass}} class="{{.}}"{{end}}>
{{template "root" .}}
{{template "payload" .}}
</body>
</html>
{{end}}

{{define "fragment"}}{{template "payload" .}}{{template "root" .}}{{end}}
`))
