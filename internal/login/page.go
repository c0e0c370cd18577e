package login

import (
	"bytes"
	"html/template"
)

// PageRenderer produces the login page body. The page's content is an
// external concern; the handler only needs something to substitute the
// failure message and the form's post URL into.
type PageRenderer interface {
	RenderLogin(message, postURL string) ([]byte, error)
}

var defaultLoginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Log in</title></head>
<body>
<p>{{.Message}}</p>
<form method="POST" action="{{.PostURL}}">
<label>Username <input type="text" name="username"></label>
<label>Password <input type="password" name="password"></label>
<input type="submit" value="Log in">
</form>
</body>
</html>
`))

// DefaultPage renders a minimal built-in login form, so the handler is
// usable without an external template.
type DefaultPage struct{}

func (DefaultPage) RenderLogin(message, postURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := defaultLoginTemplate.Execute(&buf, struct{ Message, PostURL string }{message, postURL})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
