// Package webui embeds the question answering playground page.
package webui

import "embed"

//go:embed static/*
var staticFS embed.FS

// Index returns the playground page served at /.
func Index() []byte {
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		// The embed pattern guarantees the file.
		panic(err)
	}
	return b
}
