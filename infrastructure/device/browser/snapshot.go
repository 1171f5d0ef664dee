package browser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// blankURL is the browser's home surface.
const blankURL = "about:blank"

// snapshotJS collects the interactive elements of the document with their
// xpath, bounds and interaction flags.
const snapshotJS = `() => {
	const xpath = (el) => {
		const parts = [];
		for (; el && el.nodeType === 1; el = el.parentNode) {
			let i = 1;
			for (let s = el.previousElementSibling; s; s = s.previousElementSibling) {
				if (s.nodeName === el.nodeName) i++;
			}
			parts.unshift(el.nodeName.toLowerCase() + '[' + i + ']');
		}
		return '/' + parts.join('/');
	};
	const clickable = (el) => {
		const tag = el.tagName.toLowerCase();
		const role = el.getAttribute('role') || '';
		return tag === 'a' || tag === 'button' || tag === 'select' || tag === 'summary' ||
			(tag === 'input' && el.type !== 'hidden') ||
			role === 'button' || role === 'link' || role === 'tab' || role === 'menuitem' ||
			typeof el.onclick === 'function' || el.hasAttribute('onclick');
	};
	const out = [];
	for (const el of document.querySelectorAll('*')) {
		const style = getComputedStyle(el);
		const scrollable = (style.overflowY === 'auto' || style.overflowY === 'scroll') && el.scrollHeight > el.clientHeight;
		const isClickable = clickable(el);
		const checkable = el.tagName === 'INPUT' && (el.type === 'checkbox' || el.type === 'radio');
		if (!isClickable && !scrollable && !checkable) continue;
		const r = el.getBoundingClientRect();
		out.push({
			xpath: xpath(el),
			id: el.id || '',
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').trim().slice(0, 120),
			label: el.getAttribute('aria-label') || el.getAttribute('title') || '',
			bounds: [Math.round(r.left), Math.round(r.top), Math.round(r.right), Math.round(r.bottom)],
			visible: style.visibility !== 'hidden' && style.display !== 'none' && r.width > 0 && r.height > 0,
			enabled: !el.disabled,
			clickable: isClickable,
			scrollable: scrollable,
			checkable: checkable,
			checked: checkable ? !!el.checked : null,
		});
	}
	return {url: location.href, title: document.title, elements: out};
}`

// pageState is the result of snapshotJS.
type pageState struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Elements []pageElement `json:"elements"`
}

type pageElement struct {
	XPath      string `json:"xpath"`
	ID         string `json:"id"`
	Tag        string `json:"tag"`
	Text       string `json:"text"`
	Label      string `json:"label"`
	Bounds     [4]int `json:"bounds"`
	Visible    bool   `json:"visible"`
	Enabled    bool   `json:"enabled"`
	Clickable  bool   `json:"clickable"`
	Scrollable bool   `json:"scrollable"`
	Checkable  bool   `json:"checkable"`
	Checked    *bool  `json:"checked"`
}

// parseState decodes the raw result of snapshotJS into a snapshot. The
// host of the page plays the role of the application package and its path
// the role of the activity.
func parseState(raw []byte) (exploration.Snapshot, error) {
	var st pageState
	if err := json.Unmarshal(raw, &st); err != nil {
		return exploration.Snapshot{}, fmt.Errorf("decode page state: %w", err)
	}

	host, path := hostOf(st.URL), pathOf(st.URL)
	widgets := make([]exploration.Widget, 0, len(st.Elements))
	for _, el := range st.Elements {
		w := exploration.Widget{
			XPath:       el.XPath,
			ResourceID:  el.ID,
			Text:        el.Text,
			ContentDesc: el.Label,
			ClassName:   el.Tag,
			PackageName: host,
			Bounds: exploration.Rect{
				Left: el.Bounds[0], Top: el.Bounds[1], Right: el.Bounds[2], Bottom: el.Bounds[3],
			},
			Enabled:    el.Enabled,
			Visible:    el.Visible,
			Clickable:  el.Clickable,
			Scrollable: el.Scrollable,
		}
		if el.Checkable {
			checked := el.Checked != nil && *el.Checked
			w.Checked = &checked
		}
		widgets = append(widgets, w)
	}

	s := exploration.NewSnapshot(host, path, widgets)
	s.IsHomeScreen = st.URL == "" || st.URL == blankURL
	return s, nil
}

// hostOf returns the host of a URL, or the URL itself when it has none.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// cssID escapes an element id for a CSS selector.
func cssID(id string) string {
	var b strings.Builder
	b.WriteByte('#')
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
