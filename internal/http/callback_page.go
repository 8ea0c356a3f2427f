package httpx

import (
	"html/template"
	"net/http"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authentication Complete</title>
  <style>
    body { font-family: sans-serif; text-align: center; padding: 50px; }
    .success { color: #2e7d32; }
  </style>
</head>
<body>
  <h1 class="success">Authentication Complete</h1>
  <p>You can close this window and return to your application.</p>
  <script>
  {{- if .External }}
    if (window.opener) {
      window.opener.postMessage({type: "iiif-auth-callback", token: {{.Token}}, sessionId: {{.SessionID}}}, "*");
    }
  {{- else }}
    if (document.cookie) {
      fetch("/callback/cookies", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({cookies: document.cookie})
      }).catch(function () {});
    }
  {{- end }}
    setTimeout(function () { window.close(); }, 1000);
  </script>
</body>
</html>
`))

type callbackPageData struct {
	External  bool
	Token     string
	SessionID string
}

func renderCallbackPage(w http.ResponseWriter, data callbackPageData) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	return callbackPage.Execute(w, data)
}
