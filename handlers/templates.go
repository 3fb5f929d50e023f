package handlers

import "html/template"

// the two user-facing pages are small enough to live as inline templates:
// no asset pipeline, nothing to locate on disk at runtime. the loading
// page refreshes itself while the freshly assigned upstream boots; the
// full page tells the user when a retry is worthwhile.

var loadingTemplate = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="3">
<title>Launching…</title>
<style>
  body { font-family: sans-serif; text-align: center; margin-top: 18vh; color: #333; }
  .spinner { font-size: 2.5em; animation: spin 1.2s linear infinite; display: inline-block; }
  @keyframes spin { to { transform: rotate(360deg); } }
</style>
</head>
<body>
<div class="spinner">&#9696;</div>
<h1>Your server is starting up</h1>
<p>This page refreshes automatically until it is ready.</p>
</body>
</html>
`))

type fullPageData struct {
	// CullPeriod is the heartbeat interval in seconds: the longest a user
	// has to wait before freed capacity shows up
	CullPeriod int
}

var fullTemplate = template.Must(template.New("full").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>No servers available</title>
<style>
  body { font-family: sans-serif; text-align: center; margin-top: 18vh; color: #333; }
</style>
</head>
<body>
<h1>All servers are in use</h1>
<p>Capacity is reclaimed about every {{.CullPeriod}} seconds &mdash; please try again in a moment.</p>
</body>
</html>
`))
