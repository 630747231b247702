package nav

import (
	"pagenav/dom"
	"pagenav/meta"
	"pagenav/model"
	"pagenav/page"
)

// commit makes the new page current and brings head metadata and history
// in line with it. The caller holds e.mu.
func (e *Engine) commit(seq uint64, current *Entry, in Intent, m *model.Navigation, p *page.Page) *Entry {
	first := in.Source == SourceFirst
	popState := in.Source == SourcePopState

	// the server rendered the first document's head already
	if !first {
		e.applyHead(m)
		var prev *model.Navigation
		if current != nil {
			prev = current.Model
		}
		e.applyBodyClass(prev, m)
		e.doc.SetTitle(m.Title)
	}

	entry := &Entry{
		URL:      in.URL,
		Hash:     in.Hash,
		Model:    m,
		Page:     p,
		Sequence: seq,
		Intent:   in,
	}
	e.current = entry

	act := meta.DecideHistory(meta.HistoryInput{
		URL:      in.URL,
		Hash:     in.Hash,
		Href:     e.browser.Href(),
		First:    first,
		PopState: popState,
		Replace:  in.Replace,
	})
	switch act.Op {
	case meta.HistoryPush:
		e.browser.PushState(m.Title, in.Href())
	case meta.HistoryReplace:
		e.browser.ReplaceState(m.Title, in.Href())
	}
	if act.SetHash {
		e.browser.SetHash(in.Hash)
	}
	if act.ScrollTop {
		e.browser.ScrollTo(0, 0)
	}
	e.logger.Debug("navigation committed", "seq", seq, "url", in.URL, "hash", in.Hash, "history", act.Op)
	return entry
}

// applyHead upserts or removes every managed head tag.
func (e *Engine) applyHead(m *model.Navigation) {
	head := e.doc.Head()
	for _, tag := range meta.Tags(m) {
		elem := e.doc.GetElementByID(tag.ID)
		switch {
		case tag.Value != "" && elem == nil:
			if head != nil {
				head.AppendChild(dom.NewElement(tag.Element, tag.Attrs()))
			}
		case tag.Value != "":
			dom.SetAttr(elem, tag.ValueAttr, tag.Value)
		case elem != nil:
			dom.Remove(elem)
		}
	}
}

func (e *Engine) applyBodyClass(prev, next *model.Navigation) {
	body := e.doc.Body()
	if body == nil {
		return
	}
	remove, add := meta.BodyClass(prev, next)
	if remove != "" {
		dom.RemoveClass(body, remove)
	}
	if add != "" {
		dom.AddClass(body, add)
	}
}
