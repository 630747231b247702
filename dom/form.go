package dom

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FormMethod returns the upper-cased method of a form, GET by default.
func FormMethod(form *html.Node) string {
	if m, ok := Attr(form, "method"); ok && m != "" {
		return strings.ToUpper(m)
	}
	return "GET"
}

// FormAction returns the action attribute of a form ("" when absent).
func FormAction(form *html.Node) string {
	a, _ := Attr(form, "action")
	return a
}

// FormValues collects the successful controls of a form: named, enabled
// inputs, checked checkboxes and radios, selected options and textareas.
func FormValues(form *html.Node) url.Values {
	values := url.Values{}
	for _, n := range Query(form, "input, select, textarea") {
		name, ok := Attr(n, "name")
		if !ok || name == "" || HasAttr(n, "disabled") {
			continue
		}
		switch n.Data {
		case "input":
			typ, _ := Attr(n, "type")
			switch strings.ToLower(typ) {
			case "checkbox", "radio":
				if !HasAttr(n, "checked") {
					continue
				}
				v, ok := Attr(n, "value")
				if !ok {
					v = "on"
				}
				values.Add(name, v)
			case "submit", "button", "reset", "image", "file":
				continue
			default:
				v, _ := Attr(n, "value")
				values.Add(name, v)
			}
		case "textarea":
			values.Add(name, TextContent(n))
		case "select":
			for _, opt := range Query(n, "option") {
				if !HasAttr(opt, "selected") {
					continue
				}
				v, ok := Attr(opt, "value")
				if !ok {
					v = strings.TrimSpace(TextContent(opt))
				}
				values.Add(name, v)
			}
		}
	}
	return values
}

// ClosestForm returns n or its nearest <form> ancestor.
func ClosestForm(n *html.Node) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return p
		}
	}
	return nil
}
