package logger

import "io"

type options struct {
	debug   bool
	json    bool
	writers []io.Writer
}

// Option configures a logger created with New.
type Option func(*options)

// WithDebug sets the log level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithJSON switches to the JSON encoder for machine-read service logs.
func WithJSON(json bool) Option {
	return func(o *options) {
		o.json = json
	}
}

// WithWriter overrides the output writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writers = []io.Writer{w}
	}
}

// WithWriters sets multiple output writers.
func WithWriters(w ...io.Writer) Option {
	return func(o *options) {
		o.writers = w
	}
}
