package dom

import (
	"golang.org/x/net/html"
)

// Script describes a <script> element handed to a ScriptRunner.
type Script struct {
	Node *html.Node
	Src  string
	Type string
	Text string
}

// ScriptRunner executes scripts that arrived through markup injection.
type ScriptRunner interface {
	RunScript(s Script)
}

// ScriptRunnerFunc adapts a func to ScriptRunner.
type ScriptRunnerFunc func(s Script)

// RunScript calls f(s).
func (f ScriptRunnerFunc) RunScript(s Script) { f(s) }

// RefreshScripts replaces every <script> under root (root included) with a
// fresh copy and returns the copies in document order. Scripts parsed from
// injected markup never run by themselves; the copies are what a runner
// executes.
func RefreshScripts(root *html.Node) []Script {
	var nodes []*html.Node
	if root.Type == html.ElementNode && root.Data == "script" {
		nodes = append(nodes, root)
	} else {
		nodes = Query(root, "script")
	}

	scripts := make([]Script, 0, len(nodes))
	for _, old := range nodes {
		fresh := Clone(old)
		if old.Parent != nil {
			old.Parent.InsertBefore(fresh, old)
			old.Parent.RemoveChild(old)
		}
		src, _ := Attr(fresh, "src")
		typ, _ := Attr(fresh, "type")
		scripts = append(scripts, Script{Node: fresh, Src: src, Type: typ, Text: TextContent(fresh)})
	}
	return scripts
}

// RunScripts passes each script to run in order and returns how many ran.
// A nil runner runs nothing.
func RunScripts(scripts []Script, run ScriptRunner) int {
	if run == nil {
		return 0
	}
	for _, s := range scripts {
		run.RunScript(s)
	}
	return len(scripts)
}
