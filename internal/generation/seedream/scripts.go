package seedream

import (
	"encoding/json"
	"fmt"
)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// visibleJS evaluates to true when an XPath matches a rendered element.
func visibleJS(xpath string) string {
	return fmt.Sprintf(`(() => {
		const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) {
			const el = r.snapshotItem(i);
			if (!(el instanceof Element)) continue;
			const st = getComputedStyle(el);
			const box = el.getBoundingClientRect();
			if (st.visibility !== 'hidden' && st.display !== 'none' && box.width > 0 && box.height > 0) return true;
		}
		return false;
	})()`, jsString(xpath))
}

// clickJS clicks the first rendered element matching an XPath and evaluates
// to whether one was found.
func clickJS(xpath string) string {
	return fmt.Sprintf(`(() => {
		const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) {
			const el = r.snapshotItem(i);
			if (!(el instanceof HTMLElement)) continue;
			const box = el.getBoundingClientRect();
			if (box.width === 0 || box.height === 0) continue;
			el.scrollIntoView({block: 'center'});
			el.click();
			return true;
		}
		return false;
	})()`, jsString(xpath))
}

// setPromptJS fills the prompt textarea through the native value setter so
// framework-controlled inputs see the change.
func setPromptJS(prompt string) string {
	return fmt.Sprintf(`(() => {
		const el = document.querySelector('textarea');
		if (!el) throw new Error('prompt textarea not found');
		const setter = Object.getOwnPropertyDescriptor(HTMLTextAreaElement.prototype, 'value').set;
		setter.call(el, %s);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(prompt))
}

// chooseJS picks a preset by label from a <select> or a clickable control.
func chooseJS(label string) string {
	return fmt.Sprintf(`(() => {
		const want = %s.trim().toLowerCase();
		for (const sel of document.querySelectorAll('select')) {
			for (const opt of sel.options) {
				if (opt.text.trim().toLowerCase() === want) {
					sel.value = opt.value;
					sel.dispatchEvent(new Event('change', {bubbles: true}));
					return true;
				}
			}
		}
		const candidates = document.querySelectorAll('button, [role="option"], [role="tab"], [role="radio"], label');
		for (const el of candidates) {
			if ((el.innerText || '').trim().toLowerCase() === want) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, jsString(label))
}
