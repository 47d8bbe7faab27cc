//go:build !linux

package main

import "io"

func (r *lineReader) ReadLine(prompt string) (string, error) {
	_, _ = io.WriteString(r.out, prompt)
	line, err := r.readPlain()
	if err == nil {
		r.remember(line)
	}
	return line, err
}
