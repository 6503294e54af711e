package manifest

import (
	"context"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manifest
// =============================================================================

// Manifest is the parsed project description: the one service the project
// runs. Values here override deploy-time defaults (image naming, container
// port) but never the domain or project name, which come from the operator.
type Manifest struct {
	// Image is the container image, empty when the service builds locally.
	Image string

	// BuildContext and Dockerfile describe a local build, handed to the
	// image builder as parameters.
	BuildContext string
	Dockerfile   string

	// ContainerPort is the port the application listens on, taken from the
	// first exposed or published port. Zero when the manifest names none.
	ContainerPort int

	// Env holds the service environment.
	Env map[string]string

	// Labels holds extra container labels.
	Labels map[string]string
}

// BuildParams flattens the build options for the image builder.
func (m *Manifest) BuildParams() map[string]string {
	if m.BuildContext == "" && m.Dockerfile == "" {
		return nil
	}
	params := map[string]string{}
	if m.BuildContext != "" {
		params["context"] = m.BuildContext
	}
	if m.Dockerfile != "" {
		params["dockerfile"] = m.Dockerfile
	}
	return params
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses a compose-style manifest into a Manifest.
// This is a pure function - no I/O, no side effects.
func Parse(yamlContent string) (*Manifest, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadManifest(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}
	if len(project.Services) > 1 {
		return nil, NewParseError("services", "a project runs exactly one container", ErrMultipleServices)
	}

	for _, svc := range project.Services {
		return convertService(svc)
	}
	return nil, ErrNoServices
}

// loadManifest loads the manifest using compose-go.
func loadManifest(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("berth-manifest", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory parse; nothing to resolve on disk.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects compose features berth does not run.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
		if len(svc.DependsOn) > 0 {
			return NewParseError("services."+svc.Name+".depends_on", "a project runs exactly one container", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService maps the single compose service onto a Manifest.
func convertService(svc types.ServiceConfig) (*Manifest, error) {
	m := &Manifest{
		Image: svc.Image,
		Env:   map[string]string{},
	}

	if svc.Build != nil {
		m.BuildContext = svc.Build.Context
		m.Dockerfile = svc.Build.Dockerfile
	}
	if m.Image == "" && svc.Build == nil {
		return nil, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	// The upstream port: first published port wins, then first expose.
	if len(svc.Ports) > 0 {
		m.ContainerPort = int(svc.Ports[0].Target)
	} else if len(svc.Expose) > 0 {
		m.ContainerPort = parsePort(svc.Expose[0])
	}

	for k, v := range svc.Environment {
		if v != nil {
			m.Env[k] = *v
		}
	}
	if len(svc.Labels) > 0 {
		m.Labels = map[string]string{}
		for k, v := range svc.Labels {
			m.Labels[k] = v
		}
	}

	return m, nil
}

func parsePort(s string) int {
	port := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		port = port*10 + int(r-'0')
	}
	return port
}
