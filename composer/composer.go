/*
Top-level module API.

Import this package to render project descriptions from your own
application: RenderFile and RenderString load a project document, build a
render engine, and run it to completion. The command-line front end in the
repository root is a thin wrapper over these two calls.
*/
package composer

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

type renderOptions struct {
	logger   hclog.Logger
	progress ProgressFunc
	ctx      context.Context
}

// Option customizes a render run.
type Option func(*renderOptions)

// WithLogger routes engine and loader diagnostics to the given logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *renderOptions) { o.logger = logger }
}

// WithProgress installs a progress callback, invoked with whole percent
// values as they strictly increase.
func WithProgress(progress ProgressFunc) Option {
	return func(o *renderOptions) { o.progress = progress }
}

// WithContext ties the render to a context; cancelling it tears the
// pipeline down and Render returns ErrRenderCancelled.
func WithContext(ctx context.Context) Option {
	return func(o *renderOptions) { o.ctx = ctx }
}

// RenderFile loads a project document (JSON, or YAML by extension) from
// disk and renders it to the project's output path.
func RenderFile(path string, opts ...Option) error {
	options := applyOptions(opts)

	loader := NewConfigLoader(options.logger)
	config, err := loader.LoadFile(path)
	if err != nil {
		return err
	}
	return renderProject(config, options)
}

// RenderString renders an in-memory JSON project document.
func RenderString(jsonText string, opts ...Option) error {
	options := applyOptions(opts)

	loader := NewConfigLoader(options.logger)
	config, err := loader.LoadString(jsonText)
	if err != nil {
		return err
	}
	return renderProject(config, options)
}

func applyOptions(opts []Option) *renderOptions {
	options := &renderOptions{logger: hclog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func renderProject(config *ProjectConfig, options *renderOptions) error {
	engine, err := NewRenderEngine(config, options.logger, options.progress)
	if err != nil {
		return err
	}
	defer engine.Close()

	if options.ctx != nil {
		watchDone := make(chan struct{})
		defer close(watchDone)
		go func() {
			select {
			case <-options.ctx.Done():
				engine.Cancel()
			case <-watchDone:
			}
		}()
	}

	return engine.Render()
}
