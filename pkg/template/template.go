// Package template renders cluster manifest bundles for provisionable
// resource types.
package template

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/dreyhq/drey/pkg/cluster"
)

//go:embed templates/*.yaml.tmpl
var templateFS embed.FS

// typePrefix maps a resource type name to the prefix used for its template
// context keys (e.g. postgres_name, postgres_secret_name).
var typePrefix = map[string]string{
	"db-postgresql": "postgres",
	"db-mariadb":    "mariadb",
	"db-redis":      "redis",
	"db-valkey":     "valkey",
}

// templateFile maps a resource type name to its embedded template
var templateFile = map[string]string{
	"db-postgresql": "templates/postgresql.yaml.tmpl",
	"db-mariadb":    "templates/mariadb.yaml.tmpl",
	"db-redis":      "templates/redis.yaml.tmpl",
	"db-valkey":     "templates/valkey.yaml.tmpl",
}

// Prefix returns the context key prefix for a resource type name
func Prefix(typeName string) (string, bool) {
	p, ok := typePrefix[typeName]
	return p, ok
}

// Supported reports whether a manifest template exists for the type
func Supported(typeName string) bool {
	_, ok := templateFile[typeName]
	return ok
}

// Renderer renders manifest bundles from the embedded template set.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses all embedded templates
func NewRenderer() (*Renderer, error) {
	t, err := template.New("manifests").
		Funcs(sprig.TxtFuncMap()).
		ParseFS(templateFS, "templates/*.yaml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// Render produces the YAML manifest bundle for a resource type
func (r *Renderer) Render(typeName string, ctx map[string]any) (string, error) {
	file, ok := templateFile[typeName]
	if !ok {
		return "", fmt.Errorf("no manifest template for resource type %q", typeName)
	}
	name := strings.TrimPrefix(file, "templates/")
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, ctx); err != nil {
		return "", fmt.Errorf("failed to render manifest for %q: %w", typeName, err)
	}
	return buf.String(), nil
}

// Bundle is the split result of a rendered manifest: one stateful workload
// and optionally a service.
type Bundle struct {
	Workload *cluster.Manifest
	Service  *cluster.Manifest
}

// SplitBundle parses a multi-document YAML bundle and separates the
// workload from the service document.
func SplitBundle(rendered string) (*Bundle, error) {
	dec := yaml.NewDecoder(strings.NewReader(rendered))
	bundle := &Bundle{}
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest bundle: %w", err)
		}
		if len(doc) == 0 {
			continue
		}
		kind, _ := doc["kind"].(string)
		m := &cluster.Manifest{
			Kind: kind,
			Name: manifestName(doc),
			Body: doc,
		}
		switch kind {
		case "Service":
			bundle.Service = m
		case "StatefulSet", "Deployment":
			bundle.Workload = m
		default:
			return nil, fmt.Errorf("unexpected manifest kind %q in bundle", kind)
		}
	}
	if bundle.Workload == nil {
		return nil, fmt.Errorf("manifest bundle contains no stateful workload")
	}
	return bundle, nil
}

func manifestName(doc map[string]any) string {
	meta, ok := doc["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := meta["name"].(string)
	return name
}
