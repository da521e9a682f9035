package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/valve-panel/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Gate Valves</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.open { color: green; font-weight: bold; }
.close { color: #888; }
.locked { color: #b60; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Gate Valves<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<table id="valves">
<tr><th>#</th><th>Valve</th><th>State</th><th>Lock</th><th></th></tr>
{{range .Valves}}<tr data-relay="{{.Index}}">
<td>{{.Index}}</td>
<td>{{.Name}}</td>
<td class="state {{if .Open}}open{{else}}close{{end}}">{{.StatusText}}</td>
<td class="lock {{if .Locked}}locked{{end}}">{{.LockText}}</td>
<td><button data-action="toggle">Toggle</button> <button data-action="lock">Lock</button></td>
</tr>
{{end}}</table>
<p><button id="all-open">All Open</button> <button id="all-close">All Close</button> <span id="message"></span></p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Driver</th><td>{{.Config.Driver}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.Listen}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/api/relay/status">API</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var msg = document.getElementById("message");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function render(relays) {
    relays.forEach(function(r) {
      var row = document.querySelector('tr[data-relay="' + r.relay_num + '"]');
      if (!row) return;
      var st = row.querySelector(".state");
      st.textContent = r.status_text;
      st.className = "state " + (r.state ? "open" : "close");
      var lk = row.querySelector(".lock");
      lk.textContent = r.locked ? "Locked" : "Unlocked";
      lk.className = "lock" + (r.locked ? " locked" : "");
    });
  }

  function post(url) {
    fetch(url, { method: "POST" })
      .then(function(res) { return res.json(); })
      .then(function(body) { msg.textContent = body.message || ""; })
      .catch(function() { msg.textContent = "request failed"; });
  }

  document.querySelectorAll("button[data-action]").forEach(function(b) {
    b.addEventListener("click", function() {
      var n = b.closest("tr").dataset.relay;
      post("/api/relay/" + n + "/" + b.dataset.action);
    });
  });
  document.getElementById("all-open").addEventListener("click", function() { post("/api/relay/all/on"); });
  document.getElementById("all-close").addEventListener("click", function() { post("/api/relay/all/off"); });

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/api/relay/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onmessage = function(ev) {
      try { render(JSON.parse(ev.data).relays); } catch (e) {}
    };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
