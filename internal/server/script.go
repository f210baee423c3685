package server

import "fmt"

// clientScript reloads the page on "reload" events and swaps matching
// stylesheets in place on "css" events
const clientScript = `(() => {
  if (window.__HAUNT_LR__) return;
  window.__HAUNT_LR__ = true;
  const notify = %t;
  function banner(text) {
    if (!notify || !document.body) return;
    const el = document.createElement('div');
    el.textContent = text;
    el.style.cssText = 'position:fixed;top:0;right:0;z-index:2147483647;padding:12px 16px;background:#1b2032;color:#fff;font:14px sans-serif;border-bottom-left-radius:5px';
    document.body.appendChild(el);
    setTimeout(() => el.remove(), 1500);
  }
  function swapCSS(paths) {
    let swapped = 0;
    document.querySelectorAll('link[rel="stylesheet"]').forEach((link) => {
      const url = new URL(link.href, location.href);
      if (url.origin !== location.origin || !paths.includes(url.pathname)) return;
      url.searchParams.set('haunt', Date.now());
      link.href = url.toString();
      swapped++;
    });
    return swapped > 0;
  }
  function connect() {
    const es = new EventSource('%s');
    es.onmessage = (e) => {
      let msg;
      try { msg = JSON.parse(e.data); } catch (_) { return; }
      if (msg.type === 'css' && swapCSS(msg.paths || [])) {
        banner('Injected: ' + msg.paths.join(', '));
        return;
      }
      banner('Reloading...');
      location.reload();
    };
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`

func renderClientScript(notify bool) string {
	return fmt.Sprintf(clientScript, notify, EventsPath)
}
