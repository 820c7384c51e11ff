package humastar

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var funcMap = template.FuncMap{
	// dict builds a map from key/value pairs for nested templates.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"prop": func(props map[string]any, key string) string {
		if v, ok := props[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	dir       string
	mu        sync.RWMutex
	templates *template.Template
}

// NewRenderer parses every *.html file in fragmentsDir.
func NewRenderer(fragmentsDir string) (*Renderer, error) {
	tmpl, err := parseFragments(fragmentsDir)
	if err != nil {
		return nil, err
	}
	return &Renderer{dir: fragmentsDir, templates: tmpl}, nil
}

func parseFragments(dir string) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("parsing fragments in %s: %w", dir, err)
	}
	return tmpl, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Reload re-parses the fragments from disk.
func (r *Renderer) Reload() error {
	tmpl, err := parseFragments(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}

// Watch reloads the fragments whenever a template file in the directory
// changes, until ctx is done. Reload failures go to onErr and keep the
// previous templates.
func (r *Renderer) Watch(ctx context.Context, onErr func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watching fragments: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", r.dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".html" || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				if err := r.Reload(); err != nil && onErr != nil {
					onErr(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	return nil
}
