package control

import (
	"html/template"
	"net/http"

	"github.com/vinayprograms/inkpanel/tasks"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>inkpanel</title>
<style>
body { font-family: sans-serif; max-width: 28rem; margin: 1rem auto; padding: 0 1rem; }
a.button, button { display: block; margin: .4rem 0; padding: .7rem; text-align: center;
  border: 1px solid #222; border-radius: 4px; color: #222; text-decoration: none; background: #fff; width: 100%; }
input[type=text] { width: 100%; padding: .6rem; box-sizing: border-box; }
#status { font-weight: bold; color: #b00; }
img { width: 100%; image-rendering: pixelated; border: 1px solid #ccc; }
</style>
</head>
<body>
<h1>inkpanel</h1>
<p>Showing: <span id="status">{{.Status}}</span></p>
<p id="stats"></p>
<img id="preview" src="/preview.png" alt="panel preview">
<h2>Tasks</h2>
{{range .Tasks}}<a class="button" href="/run/{{.Key}}">{{.DisplayName}}</a>
{{end}}
<h2>Message</h2>
<form method="post" action="/message">
<input type="text" name="text_input" maxlength="200" placeholder="Text to show">
<button type="submit">Show message</button>
</form>
<h2>System</h2>
<a class="button" href="/system/restart_service">Restart service</a>
<a class="button" href="/system/reboot" onclick="return confirm('Reboot?')">Reboot</a>
<a class="button" href="/system/shutdown" onclick="return confirm('Shut down?')">Shut down</a>
<script>
(function () {
  var el = document.getElementById("status");
  var img = document.getElementById("preview");
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/status/stream");
    ws.onmessage = function (ev) {
      el.textContent = JSON.parse(ev.data).status;
      setTimeout(function () { img.src = "/preview.png?" + Date.now(); }, 2000);
    };
    ws.onclose = function () { setTimeout(connect, 5000); };
  }
  function stats() {
    fetch("/api/stats").then(function (r) { return r.json(); }).then(function (s) {
      document.getElementById("stats").textContent = "CPU " + s.cpu + "%  RAM " + s.ram + "%";
    }).catch(function () {});
  }
  connect();
  stats();
  setInterval(stats, 5000);
})();
</script>
</body>
</html>
`))

type menuItem struct {
	Key         string
	DisplayName string
}

type indexData struct {
	Status string
	Tasks  []menuItem
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Status: s.cfg.Supervisor.Status().Status}
	for _, k := range tasks.Kinds() {
		// Messages are sent through the form.
		if k == tasks.KindMessage {
			continue
		}
		data.Tasks = append(data.Tasks, menuItem{Key: k.Key(), DisplayName: k.DisplayName()})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Warn("page_render_failed", map[string]interface{}{"error": err.Error()})
	}
}
