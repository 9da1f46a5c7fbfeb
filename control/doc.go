// Package control serves the panel's web control surface.
//
// Routes:
//
//	GET  /                    control page
//	GET  /run/{key}           request a task, redirect to /
//	POST /message             show form field text_input, redirect to /
//	GET  /system/{action}     shutdown, reboot or restart_service
//	GET  /api/status          {"status": "Music", "revision": 12}
//	GET  /api/status/stream   websocket, one status object per record change
//	GET  /api/stats           {"cpu": 12.5, "ram": 40.1}
//	GET  /api/runs            recent task runs, newest first
//	GET  /preview.png         last frame sent to the panel
//	GET  /healthz             liveness
//	GET  /metrics             Prometheus exposition
//
// Unknown task keys are ignored: the request redirects and the status stays
// as it was.
package control
